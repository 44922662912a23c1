package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Highkingd/Huygame2341-botdis/internal/service/order/domain"
)

// FileSnapshotter 把整个订单集合写成一个 JSON 文件。
// 写入先落到同目录的临时文件再 rename，进程崩溃时不会留下半个文件。
type FileSnapshotter struct {
	path string
}

func NewFileSnapshotter(path string) (*FileSnapshotter, error) {
	if path == "" {
		return nil, errors.New("file snapshotter: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "file snapshotter: create directory")
	}
	return &FileSnapshotter{path: path}, nil
}

func (f *FileSnapshotter) Save(_ context.Context, snap *domain.Snapshot) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp snapshot")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "sync temp snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp snapshot")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}

// Load 读取快照。文件损坏或无法读取时会被改名保留，方便人工排查，随后返回 ErrSnapshotCorrupt。
// 改名失败时返回原始错误，文件保持原样。
func (f *FileSnapshotter) Load(context.Context) (*domain.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		if f.quarantine("unreadable") {
			return nil, errors.Wrapf(ErrSnapshotCorrupt, "%s: %v", f.path, err)
		}
		return nil, errors.Wrap(err, "read snapshot")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrSnapshotNotFound
	}

	snap := domain.NewSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		f.quarantine("corrupt")
		return nil, errors.Wrapf(ErrSnapshotCorrupt, "%s: %v", f.path, err)
	}
	if snap.Orders == nil {
		snap.Orders = make(map[string]*domain.Order)
	}
	return snap, nil
}

func (f *FileSnapshotter) Close() error { return nil }

func (f *FileSnapshotter) quarantine(reason string) bool {
	target := fmt.Sprintf("%s.%s-%d", f.path, reason, time.Now().Unix())
	if err := os.Rename(f.path, target); err != nil {
		log.Warn().Err(err).Str("path", f.path).Str("reason", reason).Msg("Failed to move snapshot aside")
		return false
	}
	log.Warn().Str("path", f.path).Str("reason", reason).Str("moved_to", target).Msg("Snapshot moved aside")
	return true
}
