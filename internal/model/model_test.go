package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFullName(t *testing.T) {
	tests := []struct {
		input     string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{input: "alice/widgets", wantOwner: "alice", wantName: "widgets"},
		{input: "a/b", wantOwner: "a", wantName: "b"},
		{input: "alice/widgets/extra", wantOwner: "alice", wantName: "widgets/extra"},
		{input: "nodash", wantErr: true},
		{input: "/widgets", wantErr: true},
		{input: "alice/", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			owner, name, err := SplitFullName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestSummaryTally(t *testing.T) {
	var s Summary

	s.Tally(Result{Outcome: OutcomeSuccess})
	s.Tally(Result{Outcome: OutcomeSuccess})
	s.Tally(Result{Outcome: OutcomeSkipped})
	s.Tally(Result{Outcome: OutcomeDeleted})
	s.Tally(Result{Outcome: OutcomeFailed, Err: errors.New("boom")})

	assert.Equal(t, 2, s.SuccessCount)
	assert.Equal(t, 1, s.SkippedCount)
	assert.Equal(t, 1, s.DeletedCount)
	assert.Equal(t, 1, s.FailedCount)
	assert.Len(t, s.Results, 5)
}

func TestSummaryDuration(t *testing.T) {
	start := time.Date(2026, 1, 2, 6, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want string
	}{
		{name: "seconds", end: start.Add(42 * time.Second), want: "42.0s"},
		{name: "minutes", end: start.Add(150 * time.Second), want: "2.5m"},
		{name: "hours", end: start.Add(90 * time.Minute), want: "1.5h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summary{StartTime: start, EndTime: tt.end}
			assert.Equal(t, tt.want, s.DurationString())
		})
	}

	t.Run("unfinished run", func(t *testing.T) {
		s := Summary{StartTime: start}
		assert.Equal(t, time.Duration(0), s.Duration())
	})
}
