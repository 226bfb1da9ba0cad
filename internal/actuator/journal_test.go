package actuator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/emandor/lemme_grader/internal/question"
)

func TestJournalRecordsInOrder(t *testing.T) {
	j := NewJournal(0, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, j.InputScore(ctx, question.Point{X: 10, Y: 20}, 7.5))
	require.NoError(t, j.ClickConfirm(ctx, question.Point{X: 30, Y: 40}))

	got := j.Entries()
	require.Len(t, got, 2)
	require.Equal(t, KindScore, got[0].Kind)
	require.Equal(t, 7.5, got[0].Score)
	require.Equal(t, KindConfirm, got[1].Kind)
	require.Equal(t, question.Point{X: 30, Y: 40}, got[1].Point)
	require.False(t, got[0].At.IsZero())

	j.Reset()
	require.Empty(t, j.Entries())
}

func TestJournalKeepsNewest(t *testing.T) {
	j := NewJournal(2, zerolog.Nop())
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, j.InputScore(ctx, question.Point{}, float64(i)))
	}
	got := j.Entries()
	require.Len(t, got, 2)
	require.Equal(t, 2.0, got[0].Score)
	require.Equal(t, 3.0, got[1].Score)
}

func TestJournalHonorsCancel(t *testing.T) {
	j := NewJournal(0, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, j.InputScore(ctx, question.Point{}, 1), context.Canceled)
	require.ErrorIs(t, j.ClickConfirm(ctx, question.Point{}), context.Canceled)
	require.Empty(t, j.Entries())
}
