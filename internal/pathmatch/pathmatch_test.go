package pathmatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_IgnoreVCSAndCaches(t *testing.T) {
	m := New()

	assert.True(t, m.Ignored(".git", true))
	assert.True(t, m.Ignored(".git/HEAD", false))
	assert.True(t, m.Ignored("node_modules/react/index.js", false))
	assert.True(t, m.Ignored("server/debug.log", false))
	assert.True(t, m.Ignored(".DS_Store", false))

	assert.False(t, m.Ignored("src/main.go", false))
	assert.False(t, m.Ignored("README.md", false))
}

func TestIgnored_EmptyAndRootNeverIgnored(t *testing.T) {
	m := New()
	m.AddIgnore("*")

	assert.False(t, m.Ignored("", false))
	assert.False(t, m.Ignored(".", true))
}

func TestAddIgnore_DirOnlyPattern(t *testing.T) {
	m := NewEmpty()
	m.AddIgnore("temp/")

	assert.True(t, m.Ignored("temp", true), "directory itself matches")
	assert.True(t, m.Ignored("temp/file.go", false), "files inside match")
	assert.False(t, m.Ignored("temp", false), "a plain file named temp does not")
}

func TestAddIgnore_Negation(t *testing.T) {
	m := NewEmpty()
	m.AddIgnore("*.log")
	m.AddIgnore("!important.log")

	assert.True(t, m.Ignored("debug.log", false))
	assert.False(t, m.Ignored("important.log", false))
}

func TestAddIgnore_AnchoredPattern(t *testing.T) {
	m := NewEmpty()
	m.AddIgnore("/build")

	assert.True(t, m.Ignored("build", true))
	assert.False(t, m.Ignored("src/build", true), "anchored pattern only matches at root")
}

func TestAddIgnore_DoubleStar(t *testing.T) {
	m := NewEmpty()
	m.AddIgnore("**/generated")

	assert.True(t, m.Ignored("generated", true))
	assert.True(t, m.Ignored("a/b/generated", true))
}

func TestAddIgnore_SkipsCommentsAndBlanks(t *testing.T) {
	m := NewEmpty()
	m.AddIgnore("# just a comment")
	m.AddIgnore("   ")

	assert.False(t, m.Ignored("anything", false))
}

func TestLoadIgnoreFile_MissingIsNotAnError(t *testing.T) {
	m := New()
	err := m.LoadIgnoreFile(filepath.Join(t.TempDir(), "nope", IgnoreFileName))
	assert.NoError(t, err)
}

func TestLoadIgnoreFile_ReadsPatterns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, IgnoreFileName)
	require.NoError(t, os.WriteFile(path, []byte("secret/\n*.bak\n# comment\n"), 0o644))

	m := NewEmpty()
	require.NoError(t, m.LoadIgnoreFile(path))

	assert.True(t, m.Ignored("secret/key.pem", false))
	assert.True(t, m.Ignored("old.bak", false))
	assert.False(t, m.Ignored("main.go", false))
}

func TestKeep_IncludeGlobs(t *testing.T) {
	m := NewEmpty()
	require.NoError(t, m.AddIncludes([]string{"*.ts", "*.md"}))

	assert.True(t, m.Keep("src/app.ts"))
	assert.True(t, m.Keep("README.md"))
	assert.False(t, m.Keep("src/app.py"))
}

func TestKeep_NoIncludesKeepsEverythingNotIgnored(t *testing.T) {
	m := NewEmpty()
	m.AddIgnore("*.tmp")

	assert.True(t, m.Keep("anything.go"))
	assert.False(t, m.Keep("scratch.tmp"))
}
