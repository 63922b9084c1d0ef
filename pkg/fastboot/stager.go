package fastboot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"

	dterrors "github.com/davidroman0O/dutssh/errors"
	"github.com/davidroman0O/dutssh/pkg/remote"
)

// StagedFile is one local image copied to the remote staging directory
type StagedFile struct {
	// Index is the position of the file in the argument list
	Index  int
	Local  string
	Remote string
	// Err is the upload error, if the copy failed
	Err error
}

// Stager copies image files named on a fastboot command line to a
// directory on the device's host.
type Stager struct {
	transport remote.Transport
	host      string
	dir       string
	stat      func(string) (os.FileInfo, error)
}

// NewStager creates a stager uploading to dir on host through t
func NewStager(t remote.Transport, host, dir string) *Stager {
	return &Stager{
		transport: t,
		host:      host,
		dir:       dir,
		stat:      os.Stat,
	}
}

// Plan lists the files Stage would copy, without touching the remote host.
// Only window arguments naming existing local regular files are included.
func (s *Stager) Plan(args []string) []StagedFile {
	var files []StagedFile
	for _, i := range Window(args) {
		info, err := s.stat(args[i])
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, StagedFile{
			Index:  i,
			Local:  args[i],
			Remote: path.Join(s.dir, filepath.Base(args[i])),
		})
	}
	return files
}

// Staging is the result of Stage. Cleanup must be called on every path once
// Stage has returned a non-nil Staging.
type Staging struct {
	// Args is a copy of the arguments with staged files replaced by their
	// remote paths
	Args  []string
	Files []StagedFile

	mkdirErr error
	stager   *Stager
}

// Stage creates the staging directory and uploads the planned files in
// argument order, one at a time. A failed copy is logged and recorded but
// does not stop the remaining copies; the remote command then reports the
// missing file itself. Stage only returns an error when interrupted, and
// even then the returned Staging must be cleaned up.
func (s *Stager) Stage(ctx context.Context, args []string) (*Staging, error) {
	st := &Staging{
		Args:   append([]string(nil), args...),
		Files:  s.Plan(args),
		stager: s,
	}
	if len(st.Files) == 0 {
		log.Printf("[STAGE] Nothing to stage")
		return st, nil
	}

	log.Printf("[STAGE] Ensuring %s exists on %s", s.dir, s.host)
	if err := s.transport.MkdirAll(ctx, s.host, s.dir); err != nil {
		if dterrors.IsInterrupted(err) {
			return st, err
		}
		log.Printf("[STAGE] Failed to create %s on %s: %v", s.dir, s.host, err)
		st.mkdirErr = err
	}

	for i := range st.Files {
		f := &st.Files[i]
		st.Args[f.Index] = f.Remote

		log.Printf("[STAGE] Copying %s to %s:%s", f.Local, s.host, f.Remote)
		if err := s.transport.Upload(ctx, s.host, f.Local, f.Remote); err != nil {
			if dterrors.IsInterrupted(err) {
				return st, err
			}
			log.Printf("[STAGE] Copy of %s failed: %v", f.Local, err)
			f.Err = err
		}
	}
	return st, nil
}

// Err reports the staging failures, or nil when every step succeeded
func (st *Staging) Err() error {
	errs := []error{st.mkdirErr}
	for _, f := range st.Files {
		if f.Err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", f.Local, f.Err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup removes every planned remote file, whether or not its upload
// succeeded. It runs to completion even if ctx is already cancelled and
// returns all removal errors joined.
func (st *Staging) Cleanup(ctx context.Context) error {
	if st == nil || st.stager == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, f := range st.Files {
		log.Printf("[STAGE] Removing %s:%s", st.stager.host, f.Remote)
		if err := st.stager.transport.Remove(ctx, st.stager.host, f.Remote); err != nil {
			log.Printf("[STAGE] Failed to remove %s: %v", f.Remote, err)
			errs = append(errs, fmt.Errorf("remove %s: %w", f.Remote, err))
		}
	}
	return errors.Join(errs...)
}
