package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/hurttlocker/canon/internal/errors"
	"github.com/hurttlocker/canon/internal/signature"
	"github.com/hurttlocker/canon/internal/store"
)

func strp(v string) *string    { return &v }
func nump(v float64) *float64 { return &v }

func TestPickPrimary(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mk := func(id string, st store.Status, conf store.Confidence, age time.Duration) *store.Claim {
		return &store.Claim{ID: id, Status: st, Confidence: conf, UpdatedAt: base.Add(-age)}
	}

	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, PickPrimary(nil))
	})

	t.Run("status beats confidence", func(t *testing.T) {
		got := PickPrimary([]*store.Claim{
			mk("a", store.StatusUnreviewed, store.ConfidenceHigh, 0),
			mk("b", store.StatusAccepted, store.ConfidenceLow, time.Hour),
		})
		assert.Equal(t, "b", got.ID)
	})

	t.Run("status order", func(t *testing.T) {
		got := PickPrimary([]*store.Claim{
			mk("o", store.StatusOutdated, store.ConfidenceHigh, 0),
			mk("d", store.StatusDisputed, store.ConfidenceHigh, 0),
		})
		assert.Equal(t, "d", got.ID)
		got = PickPrimary([]*store.Claim{
			mk("d", store.StatusDisputed, store.ConfidenceHigh, 0),
			mk("u", store.StatusUnreviewed, store.ConfidenceLow, 0),
		})
		assert.Equal(t, "u", got.ID)
	})

	t.Run("confidence then recency then id", func(t *testing.T) {
		got := PickPrimary([]*store.Claim{
			mk("a", store.StatusAccepted, store.ConfidenceMedium, 0),
			mk("b", store.StatusAccepted, store.ConfidenceHigh, time.Hour),
		})
		assert.Equal(t, "b", got.ID)

		got = PickPrimary([]*store.Claim{
			mk("old", store.StatusAccepted, store.ConfidenceHigh, time.Hour),
			mk("new", store.StatusAccepted, store.ConfidenceHigh, 0),
		})
		assert.Equal(t, "new", got.ID)

		got = PickPrimary([]*store.Claim{
			mk("z", store.StatusAccepted, store.ConfidenceHigh, 0),
			mk("m", store.StatusAccepted, store.ConfidenceHigh, 0),
		})
		assert.Equal(t, "m", got.ID)
	})

	t.Run("order independent", func(t *testing.T) {
		claims := []*store.Claim{
			mk("1", store.StatusDisputed, store.ConfidenceHigh, 0),
			mk("2", store.StatusUnreviewed, store.ConfidenceMedium, time.Minute),
			mk("3", store.StatusUnreviewed, store.ConfidenceMedium, 0),
			mk("4", store.StatusOutdated, store.ConfidenceHigh, 0),
		}
		want := PickPrimary(claims).ID
		reversed := []*store.Claim{claims[3], claims[2], claims[1], claims[0]}
		assert.Equal(t, want, PickPrimary(reversed).ID)
		assert.Equal(t, "3", want)
	})
}

func TestSummarize(t *testing.T) {
	cases := []struct {
		name string
		c    *store.Claim
		want string
	}{
		{
			name: "full requirement",
			c: &store.Claim{Structured: &store.Structured{
				Quantity: nump(6), OutOf: nump(8), Unit: strp("general_meetings"), Cadence: strp("per_quarter"),
			}},
			want: "6 / 8 general_meetings / per quarter",
		},
		{
			name: "unknown cadence omitted",
			c:    &store.Claim{Structured: &store.Structured{Quantity: nump(2.5), Unit: strp("hours"), Cadence: strp("unknown")}},
			want: "2.5 hours",
		},
		{
			name: "no unit falls back to text",
			c:    &store.Claim{CanonicalText: "Pay dues", Structured: &store.Structured{Quantity: nump(50)}},
			want: "Pay dues",
		},
		{
			name: "exactly at limit",
			c:    &store.Claim{CanonicalText: "abcdefghijklmnopqrstuvwxyzabcdefghijklmnop"},
			want: "abcdefghijklmnopqrstuvwxyzabcdefghijklmnop",
		},
		{
			name: "truncated",
			c:    &store.Claim{CanonicalText: "Attend six of the eight general meetings held each quarter"},
			want: "Attend six of the eight general meetings h…",
		},
		{
			name: "nil claim",
			c:    nil,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Summarize(tc.c, 0))
		})
	}

	assert.Equal(t, "ééé…", Summarize(&store.Claim{CanonicalText: "éééé"}, 3), "truncation counts runes")
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addClaim(t *testing.T, s store.Store, clubID string, key store.CategoryKey, text string, status store.Status, structured *store.Structured) *store.Claim {
	t.Helper()
	ctx := context.Background()
	var c *store.Claim
	err := s.InTx(ctx, func(tx store.Tx) error {
		cat, err := tx.GetCategoryByKey(ctx, clubID, key)
		if err != nil {
			return err
		}
		c = &store.Claim{
			ClubID:        clubID,
			CategoryID:    cat.ID,
			CategoryKey:   cat.Key,
			CanonicalText: text,
			Structured:    structured,
			Status:        status,
			Confidence:    store.ConfidenceMedium,
			Signature:     signature.Normalize(text),
		}
		return tx.InsertClaim(ctx, c)
	})
	require.NoError(t, err)
	return c
}

func TestProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rowing, err := s.CreateClub(ctx, "Rowing")
	require.NoError(t, err)
	chess, err := s.CreateClub(ctx, "Chess")
	require.NoError(t, err)

	addClaim(t, s, rowing.ID, store.CategoryAttendance, "Attend meetings", store.StatusDisputed, nil)
	accepted := addClaim(t, s, rowing.ID, store.CategoryAttendance, "Attend 6 of 8 meetings", store.StatusAccepted,
		&store.Structured{Quantity: nump(6), OutOf: nump(8), Unit: strp("meetings")})
	addClaim(t, s, chess.ID, store.CategorySocial, "Attend two socials", store.StatusUnreviewed, nil)

	p := NewProjector(s, 0)
	m, err := p.Project(ctx, []string{rowing.ID, chess.ID}, []string{"social", "attendance"})
	require.NoError(t, err)

	require.Len(t, m.Clubs, 2)
	require.Len(t, m.Rows, 2)
	assert.Equal(t, store.CategorySocial, m.Rows[0].CategoryKey, "rows follow display order")
	assert.Equal(t, store.CategoryAttendance, m.Rows[1].CategoryKey)

	att := m.Rows[1].Cells[0]
	assert.Equal(t, rowing.ID, att.ClubID)
	assert.Equal(t, 2, att.Total)
	assert.Equal(t, 1, att.Disputed)
	require.NotNil(t, att.Primary)
	assert.Equal(t, accepted.ID, att.Primary.ID)
	assert.Equal(t, "6 / 8 meetings", att.Summary)

	empty := m.Rows[1].Cells[1]
	assert.Equal(t, chess.ID, empty.ClubID)
	assert.Zero(t, empty.Total)
	assert.Nil(t, empty.Primary)
	assert.Empty(t, empty.Summary)

	social := m.Rows[0].Cells[1]
	assert.Equal(t, 1, social.Total)
	assert.Equal(t, "Attend two socials", social.Summary)
}

func TestProject_Defaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateClub(ctx, "Only Club")
	require.NoError(t, err)

	m, err := NewProjector(s, 0).Project(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, m.Clubs, 1)
	assert.Len(t, m.Rows, len(store.CategoryTemplates))
}

func TestProject_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	club, err := s.CreateClub(ctx, "Club")
	require.NoError(t, err)
	p := NewProjector(s, 0)

	_, err = p.Project(ctx, []string{"missing"}, nil)
	assert.True(t, errs.IsNotFound(err), "got %v", err)

	_, err = p.Project(ctx, []string{club.ID}, []string{"juggling"})
	assert.True(t, errs.IsValidationError(err), "got %v", err)
}
