package ps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitWritesAndDeletesNestedPaths(t *testing.T) {
	persistence := setupPersistence(t)

	_, err := persistence.commit([]treeChange{
		writeChange("a/b/one.json", []byte("1")),
		writeChange("a/b/two.json", []byte("2")),
		writeChange("a/three.json", []byte("3")),
		writeChange("root.txt", []byte("r")),
	}, testIdentity, "seed")
	require.NoError(t, err)

	data, ok, err := persistence.readFile("a/b/two.json")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2", string(data))

	files, err := persistence.listFiles("a/b", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"one.json", "two.json"}, files)

	// deleting a directory removes the whole subtree
	_, err = persistence.commit([]treeChange{deleteChange("a/b")}, testIdentity, "drop")
	require.NoError(t, err)

	_, ok, err = persistence.readFile("a/b/one.json")
	require.NoError(t, err)
	assert.False(t, ok)

	files, err = persistence.listFiles("a", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"three.json"}, files)

	// emptying the tree still produces a commit
	txn, err := persistence.commit([]treeChange{deleteChange("a"), deleteChange("root.txt")}, testIdentity, "empty")
	require.NoError(t, err)
	assert.Equal(t, txn.Id, persistence.LatestTransaction().Id)

	files, err = persistence.listFiles("", "")
	require.NoError(t, err)
	assert.Empty(t, files)
}
