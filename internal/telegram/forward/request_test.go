package forward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewForwardRequest(t *testing.T) {
	reps := Replacements{{Find: "a", Replace: "b"}, {Find: "c", Replace: "d"}, {Find: "a", Replace: "z"}}

	req, err := NewForwardRequest(-1001, 200, 100, -1002, reps, 5000)
	require.NoError(t, err)

	assert.Equal(t, 100, req.StartSeq())
	assert.Equal(t, 200, req.EndSeq())
	assert.Equal(t, 101, req.Total())
	assert.Equal(t, int64(-1001), req.SourceChatID())
	assert.Equal(t, int64(-1002), req.TargetChatID())
	assert.Equal(t, Replacements{{Find: "a", Replace: "z"}, {Find: "c", Replace: "d"}}, req.Replacements())

	// 返回的是副本
	got := req.Replacements()
	got[0].Replace = "mutated"
	assert.Equal(t, "z", req.Replacements()[0].Replace)

	record := req.Record()
	assert.Equal(t, 100, record.StartSeq)
	assert.Len(t, record.Replacements, 2)
}

func TestNewForwardRequestValidation(t *testing.T) {
	_, err := NewForwardRequest(-1001, 1, 5001, -1002, nil, 5000)
	assert.ErrorIs(t, err, ErrRangeTooLarge)

	_, err = NewForwardRequest(-1001, 1, 5000, -1002, nil, 5000)
	assert.NoError(t, err)

	_, err = NewForwardRequest(-1001, 1, 2, 0, nil, 5000)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	_, err = NewForwardRequest(0, 1, 2, -1002, nil, 5000)
	assert.ErrorIs(t, err, ErrUnresolvedChat)

	_, err = NewForwardRequest(-1001, 1, 2, -1002, Replacements{{Find: "", Replace: "x"}}, 5000)
	assert.ErrorIs(t, err, ErrEmptyFind)
}

func newRequestService(transport Transport) *Service {
	cfg := DefaultConfig()
	cfg.MaxMessages = 100
	return NewService(cfg, transport, Stores{
		Jobs:   newMemJobStore(),
		Stats:  &memStatStore{},
		Topics: newMemTopicStore(),
		Pins:   newMemPinStore(),
	}, NewController(DefaultControllerConfig()), NewJobRegistry(3))
}

func TestServiceNewRequest(t *testing.T) {
	transport := newFakeTransport()
	transport.aliases["@somechannel"] = -1005550001
	svc := newRequestService(transport)
	ctx := context.Background()

	t.Run("private links", func(t *testing.T) {
		req, err := svc.NewRequest(ctx, RawRequest{
			StartLink: "https://t.me/c/1234567890/150",
			EndLink:   "https://t.me/c/1234567890/100",
			Target:    " -1009876543210 ",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(-1001234567890), req.SourceChatID())
		assert.Equal(t, 100, req.StartSeq())
		assert.Equal(t, 150, req.EndSeq())
		assert.Equal(t, int64(-1009876543210), req.TargetChatID())
	})

	t.Run("alias links resolved through transport", func(t *testing.T) {
		req, err := svc.NewRequest(ctx, RawRequest{
			StartLink: "https://t.me/somechannel/1",
			EndLink:   "https://t.me/somechannel/10",
			Target:    "-1002",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(-1005550001), req.SourceChatID())
	})

	tests := []struct {
		name string
		raw  RawRequest
		want error
	}{
		{
			name: "mismatched chats",
			raw:  RawRequest{StartLink: "https://t.me/c/111/1", EndLink: "https://t.me/c/222/5", Target: "-1002"},
			want: ErrChatMismatch,
		},
		{
			name: "unknown alias",
			raw:  RawRequest{StartLink: "https://t.me/missing/1", EndLink: "https://t.me/missing/5", Target: "-1002"},
			want: ErrUnresolvedChat,
		},
		{
			name: "non numeric target",
			raw:  RawRequest{StartLink: "https://t.me/c/111/1", EndLink: "https://t.me/c/111/5", Target: "@target"},
			want: ErrInvalidTarget,
		},
		{
			name: "range too large",
			raw:  RawRequest{StartLink: "https://t.me/c/111/1", EndLink: "https://t.me/c/111/101", Target: "-1002"},
			want: ErrRangeTooLarge,
		},
		{
			name: "malformed link",
			raw:  RawRequest{StartLink: "https://t.me/c/111", EndLink: "https://t.me/c/111/5", Target: "-1002"},
			want: ErrMalformedLink,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.NewRequest(ctx, tt.raw)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
