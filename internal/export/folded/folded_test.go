package folded

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/perfmerge/internal/export"
	"github.com/coral-mesh/perfmerge/internal/profile"
	"github.com/coral-mesh/perfmerge/internal/telemetry"
)

func TestFold(t *testing.T) {
	tests := []struct {
		name     string
		contexts []export.Context
		want     []string
	}{
		{
			name: "records fold by stack",
			contexts: []export.Context{{ID: "w1", Records: []telemetry.Record{
				{FunctionName: "resize", StartTime: 0, EndTime: 2, CallStack: []string{"run", "resize"}},
				{FunctionName: "resize", StartTime: 3, EndTime: 4, CallStack: []string{"run"}},
				{FunctionName: "blur", StartTime: 4, EndTime: 5},
			}}},
			want: []string{"w1;blur 1000", "w1;run;resize 3000"},
		},
		{
			name: "inverted and unnamed skipped",
			contexts: []export.Context{{ID: "w1", Records: []telemetry.Record{
				{FunctionName: "ok", StartTime: 0, EndTime: 0},
				{FunctionName: "bad", StartTime: 5, EndTime: 1},
				{FunctionName: "", StartTime: 0, EndTime: 1},
			}}},
			want: []string{"w1;ok 1"},
		},
		{
			name: "separators in names are replaced",
			contexts: []export.Context{{ID: "main", Records: []telemetry.Record{
				{FunctionName: "a;b c", StartTime: 0, EndTime: 1},
			}}},
			want: []string{"main;a:b_c 1000"},
		},
		{
			name:     "nothing",
			contexts: []export.Context{{ID: "main"}},
			want:     []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := Fold(export.Input{Contexts: tt.contexts})
			got := make([]string, 0, len(lines))
			for _, l := range lines {
				got = append(got, l.String())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFold_ProfileOnlyContext(t *testing.T) {
	p := profile.NewBuilder(nil, zerolog.Nop()).Build(telemetry.Instrumented{
		ContextID: "main",
		Records: []telemetry.Record{
			{FunctionName: "tick", StartTime: 0, EndTime: 1},
			{FunctionName: "tick", StartTime: 2, EndTime: 3},
			{FunctionName: "tock", StartTime: 7, EndTime: 8},
		},
	})

	lines := Fold(export.Input{Contexts: []export.Context{{ID: "main", Main: true, Profile: p}}})
	require.Len(t, lines, 2)
	assert.Equal(t, "main;tick 7000", lines[0].String())
	assert.Equal(t, "main;tock 1", lines[1].String())
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, export.Input{Contexts: []export.Context{
		{ID: "w2", Records: []telemetry.Record{{FunctionName: "b", StartTime: 0, EndTime: 1}}},
		{ID: "w1", Records: []telemetry.Record{{FunctionName: "a", StartTime: 0, EndTime: 2}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "w1;a 2000\nw2;b 1000\n", buf.String())
}
