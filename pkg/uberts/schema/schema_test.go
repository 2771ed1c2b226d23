package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
)

func TestParseDef(t *testing.T) {
	s := New()

	rel, err := s.ParseDef("def lemma <tokenIndex:int> <word>")
	require.NoError(t, err)

	assert.Equal(t, "lemma", rel.Name())
	assert.Equal(t, 2, rel.Arity())
	assert.Equal(t, KindInt, rel.Type(0).Kind)
	assert.Equal(t, KindString, rel.Type(1).Kind)
	assert.Equal(t, "def lemma <tokenIndex:int> <word>", rel.Definition())
	assert.Equal(t, "witness-lemma", rel.Witness().Name)

	// Same signature again is fine and returns the same relation.
	again, err := s.ParseDef("def lemma <tokenIndex:int> <word>")
	require.NoError(t, err)
	assert.Same(t, rel, again)
}

func TestSignatureConflict(t *testing.T) {
	s := New()
	_, err := s.ParseDef("def pos <tokenIndex:int> <tag>")
	require.NoError(t, err)

	_, err = s.ParseDef("def pos <tokenIndex:int>")
	require.Error(t, err)
	assert.True(t, errors.Is(err, internalerr.ErrSignatureConflict), "got %v", err)
}

func TestTypeKindConflict(t *testing.T) {
	s := New()
	_, err := s.ParseDef("def lemma <tokenIndex:int> <word>")
	require.NoError(t, err)

	_, err = s.ParseDef("def pos <tokenIndex> <tag>")
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerr.ErrTypeConflict)
}

func TestNodeInterning(t *testing.T) {
	s := New()
	idx, err := s.DefineType("tokenIndex", KindInt)
	require.NoError(t, err)
	word, err := s.DefineType("word", KindString)
	require.NoError(t, err)

	a, err := s.Node(idx, Int(3))
	require.NoError(t, err)
	b, err := s.Node(idx, Int(3))
	require.NoError(t, err)
	assert.Same(t, a, b)

	// Same payload under a different type is a different node.
	c, err := s.Node(word, String("3"))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, s.NodeCount())

	_, err = s.Node(idx, String("3"))
	assert.ErrorIs(t, err, internalerr.ErrInvalidValue)
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(KindInt, " 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int())

	_, err = ParseValue(KindInt, "forty")
	assert.ErrorIs(t, err, internalerr.ErrInvalidValue)

	v, err = ParseValue(KindString, `"a, b"`)
	require.NoError(t, err)
	assert.Equal(t, "a, b", v.Str())
	assert.Equal(t, `"a, b"`, v.Literal())

	v, err = ParseValue(KindRef, `&"event(1)"`)
	require.NoError(t, err)
	assert.Equal(t, KindRef, v.Kind())
	assert.Equal(t, "event(1)", v.Str())
}

func TestParseNode(t *testing.T) {
	s := New()
	rel, err := s.ParseDef("def pos <tokenIndex:int> <tag>")
	require.NoError(t, err)

	n, err := s.ParseNode(rel.Type(0), "7")
	require.NoError(t, err)
	got, ok := s.LookupNode(rel.Type(0), Int(7))
	require.True(t, ok)
	assert.Same(t, n, got)

	_, err = s.ParseNode(rel.Type(0), "NNS")
	assert.Error(t, err)
}
