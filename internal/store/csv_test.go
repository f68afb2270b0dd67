package store

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"arbat/internal/domain"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(domain.TF1M, 0.01)
	bars := []domain.Bar{
		{
			DT:     time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC),
			Open:   271.5, High: 272.13, Low: 271.2, Close: 272.0,
			Value: 1234567.5, Volume: 4520,
		},
		{
			DT:     time.Date(2023, 8, 1, 7, 1, 0, 0, time.UTC),
			Open:   272.0, High: 272.4, Low: 271.9, Close: 272.25,
			Value: 98765.25, Volume: 380,
		},
	}

	var buf bytes.Buffer
	if err := codec.Write(&buf, bars); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := codec.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(bars) {
		t.Fatalf("round trip returned %d bars, want %d", len(got), len(bars))
	}
	for i := range bars {
		if !got[i].DT.Equal(bars[i].DT) || got[i] != bars[i] {
			t.Errorf("bar %d: got %+v, want %+v", i, got[i], bars[i])
		}
	}
}

func TestCodecEmitFormat(t *testing.T) {
	codec := NewCodec(domain.TF1M, 0.01)
	bars := []domain.Bar{{
		DT:   time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC),
		Open: 271.5, High: 272, Low: 271.2, Close: 272,
		Value: 100, Volume: 1,
	}}

	var buf bytes.Buffer
	if err := codec.Write(&buf, bars); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if lines[0] != "begin;end;open;high;low;close;value;volume" {
		t.Errorf("header = %q", lines[0])
	}
	want := "2023-08-01T07:00:00Z;2023-08-01T07:01:00Z;271.50;272.00;271.20;272.00;100;1"
	if lines[1] != want {
		t.Errorf("line = %q, want %q", lines[1], want)
	}
}

func TestCodecPriceStepPrecision(t *testing.T) {
	// AFKS-style 3-decimal step.
	codec := NewCodec(domain.TF1M, 0.005)
	bars := []domain.Bar{{
		DT:   time.Date(2023, 8, 1, 7, 0, 0, 0, time.UTC),
		Open: 16.105, High: 16.2, Low: 16.1, Close: 16.15, Volume: 1,
	}}
	var buf bytes.Buffer
	if err := codec.Write(&buf, bars); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "16.105;16.200;16.100;16.150") {
		t.Errorf("prices not at step precision: %q", buf.String())
	}
}

func TestCodecRejectsCorruptInput(t *testing.T) {
	codec := NewCodec(domain.TF1M, 0.01)

	cases := map[string]string{
		"bad header": "time;open\n",
		"short line": csvHeader + "\n2023-08-01T07:00:00Z;1;2\n",
		"bad OHLC":   csvHeader + "\n2023-08-01T07:00:00Z;2023-08-01T07:01:00Z;100.00;99.00;98.00;100.00;0;1\n",
		"out of order": csvHeader +
			"\n2023-08-01T07:01:00Z;2023-08-01T07:02:00Z;1.00;2.00;0.50;1.00;0;1" +
			"\n2023-08-01T07:00:00Z;2023-08-01T07:01:00Z;1.00;2.00;0.50;1.00;0;1\n",
		"duplicate": csvHeader +
			"\n2023-08-01T07:00:00Z;2023-08-01T07:01:00Z;1.00;2.00;0.50;1.00;0;1" +
			"\n2023-08-01T07:00:00Z;2023-08-01T07:01:00Z;1.00;2.00;0.50;1.00;0;1\n",
	}
	for name, input := range cases {
		_, err := codec.Read(strings.NewReader(input))
		if !errors.Is(err, domain.ErrCorruptStore) {
			t.Errorf("%s: err = %v, want ErrCorruptStore", name, err)
		}
	}
}
