package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		sent    int
		wantErr error
	}{
		{"seven characters is the boundary", "1234567", 0, nil},
		{"eight characters is rejected", "12345678", 0, ErrContentTooLong},
		{"short with space", "a b", 0, ErrContentHasSpace},
		{"tab counts as space", "a\tb", 0, ErrContentHasSpace},
		{"length is checked before spaces", "a b c d e", 0, ErrContentTooLong},
		{"runes not bytes", "привіт!", 0, nil},
		{"second message allowed", "hi", 1, nil},
		{"third message rejected", "hi", 2, ErrQuotaExceeded},
		{"content rules win over quota", "a b", 2, ErrContentHasSpace},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.content, tt.sent)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidate_ContentErrorsShareKind(t *testing.T) {
	assert.ErrorIs(t, Validate("12345678", 0), ErrContentInvalid)
	assert.ErrorIs(t, Validate("a b", 0), ErrContentInvalid)
	assert.NotErrorIs(t, Validate("hi", 2), ErrContentInvalid)

	assert.Equal(t, "messages limited to 7 characters", ErrContentTooLong.Error())
	assert.Equal(t, "spaces not allowed", ErrContentHasSpace.Error())
	assert.Equal(t, "message limit reached", ErrQuotaExceeded.Error())
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 2, Remaining(0))
	assert.Equal(t, 1, Remaining(1))
	assert.Equal(t, 0, Remaining(2))
	assert.Equal(t, 0, Remaining(5))
}

func TestPartnerFor(t *testing.T) {
	assert.Equal(t, "b", PartnerFor("a", []string{"b", "a"}))
	assert.Equal(t, "a", PartnerFor("b", []string{"a", "b"}))

	members := []string{"c", "a", "b"}
	assert.Equal(t, "b", PartnerFor("a", members))
	assert.Equal(t, "c", PartnerFor("b", members))
	assert.Equal(t, "a", PartnerFor("c", members))

	assert.Empty(t, PartnerFor("x", members))
	assert.Empty(t, PartnerFor("a", []string{"a"}))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "request_pending", Reason(&PendingError{RequestedBy: "a"}))
	assert.Equal(t, "participant_busy", Reason(&BusyError{Users: []string{"a"}}))
	assert.Equal(t, "content_too_long", Reason(ErrContentTooLong))
	assert.True(t, IsDomain(ErrQuotaExceeded))
	assert.False(t, IsDomain(assert.AnError))
	assert.False(t, IsDomain(nil))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "swap request already pending by a", (&PendingError{RequestedBy: "a"}).Error())
	assert.Equal(t, "participant already in a swap: a, b", (&BusyError{Users: []string{"a", "b"}}).Error())
}
