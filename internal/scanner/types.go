package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/ivoronin/novelguard/internal/types"
)

// fileIDCounter assigns each discovered file a process-unique id. The
// engine treats file_id as an opaque key it never interprets beyond
// equality, so a simple monotonically increasing counter is enough;
// assignment order depends on walker scheduling and carries no
// meaning of its own.
var fileIDCounter atomic.Uint64

func nextFileID() uint64 {
	return fileIDCounter.Add(1)
}

// newFileDescriptor builds a types.FileDescriptor from os.FileInfo and
// path, assigning it a fresh file_id.
func newFileDescriptor(path string, info os.FileInfo) *types.FileDescriptor {
	name := filepath.Base(path)
	return &types.FileDescriptor{
		FileID:    nextFileID(),
		Path:      path,
		Name:      name,
		Extension: strings.ToLower(filepath.Ext(name)),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}
}
