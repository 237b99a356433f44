package asm

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"gocompile/pkg/diag"
)

func TestSchedule(t *testing.T) {
	tests := []struct {
		name    string
		listing []string
		opts    ScheduleOptions
		want    []string
	}{
		{
			name: "LoadLatency",
			listing: []string{
				".func __start",
				"    LW r0, x",
				"    LI r1, 2",
				"    ADD r2, r0, r1",
				"    SW r2, y",
				"    HALT",
				".endfunc",
			},
			want: []string{
				".func __start",
				"    LW r0, x",
				"    LI r1, 2",
				"    NOP",
				"    ADD r2, r0, r1",
				"    SW r2, y",
				"    HALT",
				".endfunc",
			},
		},
		{
			name: "NoPadding",
			listing: []string{
				".func __start",
				"    LW r0, x",
				"    LI r1, 2",
				"    ADD r2, r0, r1",
				"    SW r2, y",
				"    HALT",
				".endfunc",
			},
			opts: ScheduleOptions{NoPadding: true},
			want: []string{
				".func __start",
				"    LW r0, x",
				"    LI r1, 2",
				"    ADD r2, r0, r1",
				"    SW r2, y",
				"    HALT",
				".endfunc",
			},
		},
		{
			name: "CriticalPathFirst",
			listing: []string{
				".func __start",
				"    LI r0, 1",
				"    LW r1, x",
				"    LI r2, 4",
				"    MUL r3, r1, r2",
				"    PRINT r3",
				"    PRINT r0",
				"    HALT",
				".endfunc",
			},
			want: []string{
				".func __start",
				"    LW r1, x",
				"    LI r2, 4",
				"    LI r0, 1",
				"    MUL r3, r1, r2",
				"    NOP",
				"    NOP",
				"    PRINT r3",
				"    PRINT r0",
				"    HALT",
				".endfunc",
			},
		},
		{
			name: "LabelsStayPut",
			listing: []string{
				".func __start",
				"    LI r0, 3",
				"L1:",
				"    LI r1, 1",
				"    SUB r0, r0, r1",
				"    BNEZ r0, L1",
				"    HALT",
				".endfunc",
			},
			want: []string{
				".func __start",
				"    LI r0, 3",
				"L1:",
				"    LI r1, 1",
				"    SUB r0, r0, r1",
				"    BNEZ r0, L1",
				"    HALT",
				".endfunc",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Schedule(tt.listing, tt.opts)
			if err != nil {
				t.Fatalf("Schedule: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("schedule =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(tt.want, "\n"))
			}
			if err := CheckSchedule(tt.listing, got); err != nil {
				t.Errorf("CheckSchedule: %v", err)
			}
		})
	}
}

func TestScheduleKeepsMemoryOrder(t *testing.T) {
	listing := []string{
		".func __start",
		"    LI r0, 1",
		"    SW r0, x",
		"    LW r1, x",
		"    LI r2, 2",
		"    SW r2, x",
		"    PRINT r1",
		"    HALT",
		".endfunc",
	}
	got, err := Schedule(listing, ScheduleOptions{NoPadding: true})
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int)
	for i, l := range got {
		pos[strings.TrimSpace(l)] = i
	}
	if !(pos["SW r0, x"] < pos["LW r1, x"] && pos["LW r1, x"] < pos["SW r2, x"]) {
		t.Errorf("memory accesses reordered:\n%s", strings.Join(got, "\n"))
	}
}

func TestCheckScheduleRejects(t *testing.T) {
	before := []string{
		".func __start",
		"    LW r0, x",
		"    ADD r1, r0, r0",
		"    PRINT r1",
		"    HALT",
		".endfunc",
	}
	tests := map[string][]string{
		"Reordered": {".func __start", "    ADD r1, r0, r0", "    LW r0, x", "    PRINT r1", "    HALT", ".endfunc"},
		"Changed":   {".func __start", "    LW r0, y", "    ADD r1, r0, r0", "    PRINT r1", "    HALT", ".endfunc"},
		"Dropped":   {".func __start", "    LW r0, x", "    PRINT r1", "    HALT", ".endfunc"},
		"Moved":     {".func __start", "    LW r0, x", "    ADD r1, r0, r0", "    HALT", ".endfunc", "    PRINT r1"},
	}
	for name, after := range tests {
		t.Run(name, func(t *testing.T) {
			if err := CheckSchedule(before, after); !errors.Is(err, diag.ErrSchedule) {
				t.Errorf("CheckSchedule error = %v, want ErrSchedule", err)
			}
		})
	}

	padded := []string{".func __start", "    LW r0, x", "    NOP", "    NOP", "    ADD r1, r0, r0", "    PRINT r1", "    HALT", ".endfunc"}
	if err := CheckSchedule(before, padded); err != nil {
		t.Errorf("NOP padding rejected: %v", err)
	}
}

func TestLatency(t *testing.T) {
	want := map[string]int{"LW": 3, "RELOAD": 3, "MUL": 3, "DIV": 5, "MOD": 5, "ADD": 1, "LI": 1}
	for mn, lat := range want {
		if got := Latency(mn); got != lat {
			t.Errorf("Latency(%s) = %d, want %d", mn, got, lat)
		}
	}
}
