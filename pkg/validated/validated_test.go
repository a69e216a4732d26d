package validated_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kotadb/kotadb/pkg/validated"
	"github.com/stretchr/testify/require"
)

func TestNewDocumentID_RejectsNil(t *testing.T) {
	t.Parallel()

	_, err := validated.NewDocumentID(uuid.Nil)
	require.Error(t, err)
}

func TestNewDocumentID_Generate(t *testing.T) {
	t.Parallel()

	id := validated.NewDocumentIDGenerate()
	require.False(t, id.IsZero())

	roundTripped, err := validated.NewDocumentIDFromString(id.String())
	require.NoError(t, err)
	require.Equal(t, id, roundTripped)
}

func TestNewPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid", "/a/b.md", false},
		{"empty", "", true},
		{"traversal", "/a/../b", true},
		{"traversal-relative", "../b", true},
		{"null-byte", "/a\x00b", true},
		{"backslash-canonicalized", "a\\b", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p, err := validated.NewPath(tc.raw)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, p.String())
		})
	}
}

func TestNewTagSet_BoundsCount(t *testing.T) {
	t.Parallel()

	raws := make([]string, 33)
	for i := range raws {
		raws[i] = "tag"
	}

	_, err := validated.NewTagSet(raws)
	require.Error(t, err)
}

func TestNewLimit_Range(t *testing.T) {
	t.Parallel()

	_, err := validated.NewLimit(0)
	require.Error(t, err)

	_, err = validated.NewLimit(1001)
	require.Error(t, err)

	l, err := validated.NewLimit(50)
	require.NoError(t, err)
	require.Equal(t, 50, l.Int())
}

func TestTimestampPair_Bump(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pair, err := validated.NewTimestampPair(now, now)
	require.NoError(t, err)

	bumped := pair.Bump(now)
	require.True(t, bumped.UpdatedAt.After(pair.UpdatedAt))
}

func TestNewTimestampPair_RejectsUpdatedBeforeCreated(t *testing.T) {
	t.Parallel()

	now := time.Now()
	_, err := validated.NewTimestampPair(now, now.Add(-time.Second))
	require.Error(t, err)
}
