package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.True(t, RoleSystem.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestAttachments_ScanString(t *testing.T) {
	var a Attachments
	require.NoError(t, a.Scan(`[{"kind":"image","filename":"cat.png"}]`))
	require.Len(t, a, 1)
	assert.Equal(t, AttachmentImage, a[0].Kind)

	v, err := Attachments(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestUsage_NilValue(t *testing.T) {
	var u *Usage
	v, err := u.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
