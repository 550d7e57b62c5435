package sovereign

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/mark"
	"crucible/internal/xerrors"
)

func openTestStore(t *testing.T) (*Store, *mark.Store) {
	t.Helper()
	ms, err := mark.Open(filepath.Join(t.TempDir(), "marks.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close() })

	ss, err := Open(filepath.Join(t.TempDir(), "sovereign.db"), ms, MarkdownLinkParser{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	return ss, ms
}

func TestIngestTwoLineSpecWithReference(t *testing.T) {
	ss, ms := openTestStore(t)
	ctx := context.Background()

	content := "# Overview\nsee [the glossary](spec/glossary.md) for terms\n"
	ingested, err := ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: []byte(content), Source: "test"})
	require.NoError(t, err)
	require.Equal(t, 1, ingested.Entity.Current().Number)
	require.Len(t, ingested.EdgeMarkIDs, 1)

	edgeMark, err := ms.Get(ctx, ingested.EdgeMarkIDs[0])
	require.NoError(t, err)
	require.Equal(t, "EDGE_DISCOVERED", edgeMark.Stimulus.Kind)
	require.Equal(t, "spec/glossary.md", edgeMark.Stimulus.Payload["target"])
	require.Equal(t, "REFERENCES", edgeMark.Stimulus.Payload["kind"])

	ingestMark, err := ms.Get(ctx, ingested.IngestMarkID)
	require.NoError(t, err)
	require.Equal(t, "INGEST", ingestMark.Stimulus.Kind)
	require.Equal(t, "VERSION_STORED", ingestMark.Response.Action)
}

func TestReingestWithChangeCreatesContinuesLink(t *testing.T) {
	ss, ms := openTestStore(t)
	ctx := context.Background()

	first, err := ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: []byte("line one\n")})
	require.NoError(t, err)
	require.Equal(t, 1, first.Entity.Current().Number)

	second, err := ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: []byte("line one\nline two\n")})
	require.NoError(t, err)
	require.Equal(t, 2, second.Entity.Current().Number)
	require.Len(t, second.Entity.Versions, 2)

	secondMark, err := ms.Get(ctx, second.IngestMarkID)
	require.NoError(t, err)
	require.Len(t, secondMark.Links, 1)
	require.Equal(t, mark.RelationContinues, secondMark.Links[0].Relation)
	require.Equal(t, first.IngestMarkID, secondMark.Links[0].SourceID)
}

func TestReingestIdenticalBytesIsIdempotent(t *testing.T) {
	ss, _ := openTestStore(t)
	ctx := context.Background()

	content := []byte("identical content\n")
	first, err := ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: content})
	require.NoError(t, err)

	second, err := ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: content})
	require.NoError(t, err)

	require.Equal(t, first.IngestMarkID, second.IngestMarkID)
	require.Len(t, second.Entity.Versions, 1)
}

func TestExportWitnessesBeforeReturningBytes(t *testing.T) {
	ss, ms := openTestStore(t)
	ctx := context.Background()

	_, err := ss.Ingest(ctx, IngestEvent{Path: "doc.md", ContentBytes: []byte("hello\n")})
	require.NoError(t, err)

	bundle, err := ss.Export(ctx, "doc.md")
	require.NoError(t, err)
	require.Equal(t, []byte("hello\n"), bundle.ContentBytes)

	exportMark, err := ms.Get(ctx, bundle.ExportMarkID)
	require.NoError(t, err)
	require.Equal(t, "BYTES_RELEASED", exportMark.Response.Action)
}

func TestVerifyDetectsNoCorruptionOnUnmodifiedStore(t *testing.T) {
	ss, _ := openTestStore(t)
	ctx := context.Background()

	_, err := ss.Ingest(ctx, IngestEvent{Path: "doc.md", ContentBytes: []byte("stable content\n")})
	require.NoError(t, err)
	require.NoError(t, ss.Verify(ctx, "doc.md"))
}

func TestGetUnknownPathReturnsNotFound(t *testing.T) {
	ss, _ := openTestStore(t)
	_, err := ss.Get(context.Background(), "never-ingested.md")
	require.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestProvenanceChainTracksVersionsAndEdges(t *testing.T) {
	ss, _ := openTestStore(t)
	ctx := context.Background()

	_, err := ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: []byte("see [x](a.md)\n")})
	require.NoError(t, err)
	_, err = ss.Ingest(ctx, IngestEvent{Path: "spec.md", ContentBytes: []byte("see [x](a.md)\nand [y](b.md)\n")})
	require.NoError(t, err)

	chain, err := ss.ProvenanceChain(ctx, "spec.md")
	require.NoError(t, err)
	require.Len(t, chain.ModificationMarksPerVersion, 2)
	require.Len(t, chain.EdgeMarksPerVersion[0], 1)
	require.Len(t, chain.EdgeMarksPerVersion[1], 2)
}

func TestIngestRequiresPath(t *testing.T) {
	ss, _ := openTestStore(t)
	_, err := ss.Ingest(context.Background(), IngestEvent{ContentBytes: []byte("x")})
	require.ErrorIs(t, err, xerrors.ErrInvariantViolation)
}
