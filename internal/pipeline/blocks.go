package pipeline

import (
	"slices"
	"strings"

	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/store"
	"github.com/smartschat/playlist-from-web/pkg/fuzzy"
)

// PrepareBlocks merges blocks sharing a title and context, then removes tracks
// already listed earlier on the page.
func PrepareBlocks(blocks []core.TrackBlock) []core.TrackBlock {
	return DedupeTracks(MergeBlocks(blocks))
}

// MergeBlocks joins blocks whose trimmed, case-insensitive (title, context) pair is
// equal. The merged block takes the position, title and context of its first part.
func MergeBlocks(blocks []core.TrackBlock) []core.TrackBlock {
	index := make(map[string]int, len(blocks))
	merged := make([]core.TrackBlock, 0, len(blocks))

	for _, block := range blocks {
		key := strings.ToLower(strings.TrimSpace(block.Title)) + "\x00" + strings.ToLower(strings.TrimSpace(block.Context))
		if i, ok := index[key]; ok {
			merged[i].Tracks = append(merged[i].Tracks, block.Tracks...)
			continue
		}
		index[key] = len(merged)
		block.Tracks = slices.Clone(block.Tracks)
		merged = append(merged, block)
	}

	return merged
}

// DedupeTracks keeps the first occurrence of every normalized (artist, title) across
// all blocks. Blocks left without tracks are dropped.
func DedupeTracks(blocks []core.TrackBlock) []core.TrackBlock {
	normalizer := fuzzy.NewNormalizer()
	seen := make(map[string]struct{})
	result := make([]core.TrackBlock, 0, len(blocks))

	for _, block := range blocks {
		tracks := make([]core.Track, 0, len(block.Tracks))
		for _, track := range block.Tracks {
			key := normalizer.TrackKey(track.Artist, track.Title)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			tracks = append(tracks, track)
		}
		if len(tracks) == 0 {
			continue
		}
		block.Tracks = tracks
		result = append(result, block)
	}

	return result
}

func cloneBlocks(blocks []core.TrackBlock) []core.TrackBlock {
	cloned := make([]core.TrackBlock, len(blocks))
	for i, block := range blocks {
		block.Tracks = slices.Clone(block.Tracks)
		if block.Tracks == nil {
			block.Tracks = []core.Track{}
		}
		cloned[i] = block
	}
	return cloned
}

// carryManual copies manual assignments from prior blocks onto tracks with the same
// block title and normalized (artist, title). It returns the number carried over.
func carryManual(blocks []core.TrackBlock, prior []core.TrackBlock) int {
	normalizer := fuzzy.NewNormalizer()
	manual := make(map[string]core.Track)
	for _, block := range prior {
		for _, track := range block.Tracks {
			if track.Manual && track.Resolved() {
				manual[block.Title+"\x00"+normalizer.TrackKey(track.Artist, track.Title)] = track
			}
		}
	}
	if len(manual) == 0 {
		return 0
	}

	carried := 0
	for i := range blocks {
		for j := range blocks[i].Tracks {
			track := &blocks[i].Tracks[j]
			assigned, ok := manual[blocks[i].Title+"\x00"+normalizer.TrackKey(track.Artist, track.Title)]
			if !ok {
				continue
			}
			track.CatalogURI = assigned.CatalogURI
			track.CatalogURL = assigned.CatalogURL
			track.Manual = true
			carried++
		}
	}
	return carried
}

// unionURIs returns the resolved URIs of all blocks in block order, without repeats.
func unionURIs(blocks []core.TrackBlock) []string {
	set := store.NewURISet(0)
	for i := range blocks {
		set.AddAll(blocks[i].URIs())
	}
	return set.URIs()
}
