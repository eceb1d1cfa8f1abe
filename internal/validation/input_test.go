package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLength(t *testing.T) {
	assert.NoError(t, ValidateLength("поле", "абв", 1, 3))
	assert.Error(t, ValidateLength("поле", "абвг", 1, 3))
	assert.Error(t, ValidateLength("поле", "", 1, 0))
	assert.NoError(t, ValidateLength("поле", "", 0, 0))
}

func TestValidateJobText(t *testing.T) {
	title, desc, err := ValidateJobText("  Сантехника ", "\tЗаменить смеситель\n")
	require.NoError(t, err)
	assert.Equal(t, "Сантехника", title)
	assert.Equal(t, "Заменить смеситель", desc)

	_, _, err = ValidateJobText("   ", "описание")
	assert.Error(t, err)

	_, _, err = ValidateJobText("т", strings.Repeat("я", MaxJobDescriptionLength+1))
	assert.Error(t, err)
}

func TestOptional(t *testing.T) {
	v, err := Optional("заметки", "  ок ", MaxNotesLength)
	require.NoError(t, err)
	assert.Equal(t, "ок", v)

	_, err = Optional("заметки", strings.Repeat("x", MaxNotesLength+1), MaxNotesLength)
	assert.Error(t, err)
}

func TestValidateReference(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{name: "file id", ref: "late.jpg"},
		{name: "https url", ref: " https://files.example/report.pdf "},
		{name: "empty", ref: "  ", wantErr: true},
		{name: "inner space", ref: "my file.pdf", wantErr: true},
		{name: "ftp scheme", ref: "ftp://files.example/a", wantErr: true},
		{name: "no host", ref: "https:///a", wantErr: true},
		{name: "too long", ref: strings.Repeat("a", MaxReferenceLength+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateReference("ссылка", tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.ref), got)
		})
	}
}
