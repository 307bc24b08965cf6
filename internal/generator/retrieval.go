package generator

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/maauso/charswap/internal/comfy"
)

// ErrNoMatchingArtifact is returned when no output matches the prefix and
// the default output node lists nothing.
var ErrNoMatchingArtifact = errors.New("no matching artifact")

// kindOrder is the scan order for known media kinds; other kinds follow
// alphabetically.
var kindOrder = map[string]int{"videos": 0, "gifs": 1, "images": 2}

// selectArtifact picks the produced file from a finished job. The first
// filename starting with prefix wins, scanning nodes by id and kinds in
// kindOrder. The service-reported filename is used as is.
func selectArtifact(entry comfy.HistoryEntry, prefix, defaultNode string) (comfy.OutputFile, error) {
	for _, node := range sortedNodeIDs(entry.Outputs) {
		for _, f := range nodeFiles(entry.Outputs[node]) {
			if prefix != "" && strings.HasPrefix(f.Filename, prefix) {
				return f, nil
			}
		}
	}

	if defaultNode != "" {
		if files := nodeFiles(entry.Outputs[defaultNode]); len(files) > 0 {
			return files[0], nil
		}
	}
	return comfy.OutputFile{}, ErrNoMatchingArtifact
}

// nodeFiles flattens a node's outputs in kind order.
func nodeFiles(out comfy.NodeOutput) []comfy.OutputFile {
	kinds := make([]string, 0, len(out))
	for k := range out {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ri, iKnown := kindOrder[kinds[i]]
		rj, jKnown := kindOrder[kinds[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return kinds[i] < kinds[j]
		}
	})

	var files []comfy.OutputFile
	for _, k := range kinds {
		files = append(files, out[k]...)
	}
	return files
}

// sortedNodeIDs orders node ids numerically when they are numbers.
func sortedNodeIDs(outputs map[string]comfy.NodeOutput) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case (errA == nil) != (errB == nil):
			return errA == nil
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}
