package redolog

import (
	"os"
	"path/filepath"

	"github.com/ibkv-project/ibkv/common"
)

// group is one log group: n_files files of file_size bytes each, the
// group's address space treated as one circular [0, n_files*file_size)
// range. Checkpoint slots 0 and 1 live in the first two blocks of the
// group's first file, written alternately.
type group struct {
	files     []*os.File
	fileSize  int64
	capacity  int64
}

func openGroup(dir string, groupIdx, nFiles int, fileSize int64) (*group, error) {
	g := &group{fileSize: fileSize, capacity: int64(nFiles) * fileSize}
	for i := 0; i < nFiles; i++ {
		name := filepath.Join(dir, logFileName(groupIdx, i))
		f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, common.Wrap(common.ErrGeneric, err, "redolog: opening %s", name)
		}
		if err := f.Truncate(fileSize); err != nil {
			return nil, common.Wrap(common.ErrGeneric, err, "redolog: sizing %s", name)
		}
		g.files = append(g.files, f)
	}
	return g, nil
}

func logFileName(groupIdx, fileIdx int) string {
	return "ib_logfile" + itoa(groupIdx) + "_" + itoa(fileIdx)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// writeAt writes p at the group-relative offset, which must not wrap:
// callers split writes at the group boundary before calling this.
func (g *group) writeAt(p []byte, offset int64) error {
	idx := offset / g.fileSize
	pos := offset % g.fileSize
	if int(idx) >= len(g.files) {
		return common.NewError(common.ErrCorruption, "redolog: offset %d beyond group capacity %d", offset, g.capacity)
	}
	_, err := g.files[idx].WriteAt(p, pos)
	return err
}

// writeCheckpoint writes a checkpoint block to the alternating slot
// (0 or 1) in file 0, at block-aligned offsets 0 and BlockSize.
func (g *group) writeCheckpoint(slot int, block []byte) error {
	_, err := g.files[0].WriteAt(block, int64(slot%2)*BlockSize)
	return err
}

func (g *group) sync() error {
	for _, f := range g.files {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (g *group) close() error {
	var first error
	for _, f := range g.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
