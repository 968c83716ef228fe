package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmissionTypeFor(t *testing.T) {
	assert.Equal(t, SubmissionTextImage, SubmissionTypeFor(true, true))
	assert.Equal(t, SubmissionText, SubmissionTypeFor(true, false))
	assert.Equal(t, SubmissionImage, SubmissionTypeFor(false, true))
	assert.Equal(t, SubmissionImage, SubmissionTypeFor(false, false))
}

func TestFileTypeFor(t *testing.T) {
	assert.Equal(t, FileImage, FileTypeFor("image/png"))
	assert.Equal(t, FileImage, FileTypeFor("IMAGE/JPEG"))
	assert.Equal(t, FilePDF, FileTypeFor("application/pdf"))
	assert.Equal(t, FileDocument, FileTypeFor(""))
	assert.Equal(t, FileDocument, FileTypeFor("text/plain"))

	assert.Equal(t, "application/pdf", FilePDF.MediaType())
	assert.Equal(t, "application/octet-stream", FileDocument.MediaType())
}

func TestComplaintStatusValid(t *testing.T) {
	assert.True(t, StatusDraft.Valid())
	assert.True(t, StatusCompleted.Valid())
	assert.False(t, ComplaintStatus("ARCHIVED").Valid())
}

func TestClaimsRolesNeverNil(t *testing.T) {
	assert.NotNil(t, Claims{}.Roles())
	assert.Equal(t, []string{"citizen"}, Claims{RealmAccess: RealmAccess{Roles: []string{"citizen"}}}.Roles())
}

func TestIdentityHasRole(t *testing.T) {
	id := Identity{Roles: []string{"citizen", "officer"}}
	assert.True(t, id.HasRole("officer"))
	assert.False(t, id.HasRole("admin"))
}
