package weeks

import "testing"

func TestLabels(t *testing.T) {
	got, err := Labels("2022-03-31")
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	want := map[string]string{
		"w1": "2022/03/04 - 2022/03/10",
		"w2": "2022/03/11 - 2022/03/17",
		"w3": "2022/03/18 - 2022/03/24",
		"w4": "2022/03/25 - 2022/03/31",
	}
	have := map[string]string{"w1": got.W1, "w2": got.W2, "w3": got.W3, "w4": got.W4}
	for k, v := range want {
		if have[k] != v {
			t.Fatalf("%s: expected %q, got %q", k, v, have[k])
		}
	}
}

func TestLabelsCrossYear(t *testing.T) {
	got, err := Labels("2021-01-03")
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	if got.W4 != "2020/12/28 - 2021/01/03" {
		t.Fatalf("unexpected w4 %q", got.W4)
	}
	if got.W1 != "2020/12/07 - 2020/12/13" {
		t.Fatalf("unexpected w1 %q", got.W1)
	}
}

func TestLabelsInvalidDate(t *testing.T) {
	if _, err := Labels("31/03/2022"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDayOffsets(t *testing.T) {
	diff, err := DiffFromDate("2020-02-01")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if diff != 31 {
		t.Fatalf("expected 31, got %d", diff)
	}
	if got := DateFromDiff(diff).Format(DateLayout); got != "2020-02-01" {
		t.Fatalf("expected round trip, got %s", got)
	}
	if got := DateFromDiff(0).Format(DateLayout); got != "2020-01-01" {
		t.Fatalf("expected reference date, got %s", got)
	}
}

func TestWindows(t *testing.T) {
	ws, err := Windows("2020-02-01")
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	want := [4]Window{{3, 10}, {10, 17}, {17, 24}, {24, 31}}
	if ws != want {
		t.Fatalf("expected %v, got %v", want, ws)
	}
}
