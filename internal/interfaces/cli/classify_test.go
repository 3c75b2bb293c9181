package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
	"github.com/turtacn/LexExtract/pkg/errors"
)

const opinionExcerpt = "The Court of Appeals affirmed the judgment of the District Court."

func TestClassify_Stdin(t *testing.T) {
	out, err := execute(t, opinionExcerpt, "classify", "-o", "json")
	require.NoError(t, err)

	var res ClassifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "-", res.Source)
	assert.Equal(t, common.TierSmall, res.Tier)
	assert.Greater(t, res.EstimatedTokens, 0)
	assert.Equal(t, len(opinionExcerpt), res.Runes)
	assert.Nil(t, res.ActualTokens)
	assert.Contains(t, out, `"tier": "small"`)
}

func TestClassify_FileLargeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brief.txt")
	text := strings.Repeat("the petitioner argues that the statute is unconstitutional ", 2000)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))

	out, err := execute(t, "", "classify", path, "-o", "json")
	require.NoError(t, err)

	var res ClassifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, path, res.Source)
	assert.Equal(t, common.TierExtraLarge, res.Tier)
}

func TestClassify_EmptyInput(t *testing.T) {
	out, err := execute(t, "", "classify", "-o", "json")
	require.NoError(t, err)

	var res ClassifyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, common.TierSmall, res.Tier)
	assert.Zero(t, res.EstimatedTokens)
}

func TestClassify_TableAndText(t *testing.T) {
	out, err := execute(t, opinionExcerpt, "classify", "-o", "table", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "estimated_tokens")
	assert.Contains(t, out, "small")

	out, err = execute(t, opinionExcerpt, "classify")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "-: tier=small"))
}

func TestClassify_MissingFile(t *testing.T) {
	_, err := execute(t, "", "classify", filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
}

func TestClassify_TooManyArgs(t *testing.T) {
	_, err := execute(t, "", "classify", "a.txt", "b.txt")
	assert.Error(t, err)
}
