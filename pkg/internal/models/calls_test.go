package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00", FormatDuration(0))
	assert.Equal(t, "00:09", FormatDuration(9))
	assert.Equal(t, "02:10", FormatDuration(130))
	assert.Equal(t, "59:59", FormatDuration(3599))
	assert.Equal(t, "01:00:00", FormatDuration(3600))
	assert.Equal(t, "01:01:05", FormatDuration(3665))
	assert.Equal(t, "00:00", FormatDuration(-5))
}

func TestCanInitiateCall(t *testing.T) {
	assert.True(t, Account{Role: RoleStudent}.CanInitiateCall())
	assert.False(t, Account{Role: RoleTeacher}.CanInitiateCall())
}

func TestFitStruct(t *testing.T) {
	account := Account{ID: "s-1", Name: "amelia", Role: RoleStudent, IsAvailable: true}

	var trimmed struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	FitStruct(account, &trimmed)
	assert.Equal(t, "s-1", trimmed.ID)
	assert.Equal(t, "amelia", trimmed.Name)
}
