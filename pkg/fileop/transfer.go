package fileop

import (
	"context"
	"io"

	"github.com/materials-commons/tapehsm/pkg/fsobj"
	"github.com/materials-commons/tapehsm/pkg/hsm"
	"github.com/materials-commons/tapehsm/pkg/hsmdb/hsmmodel"
	"github.com/materials-commons/tapehsm/pkg/tape"
	"github.com/pkg/errors"
)

func objectKey(j *hsmmodel.Job) string {
	return tape.ObjectKey(j.FsID, j.IGen, j.INode)
}

// copyToTape streams the file content onto j's tape. A forced termination aborts the
// object so nothing partial is left behind.
func (r *Runner) copyToTape(ctx context.Context, obj fsobj.FsObj, j *hsmmodel.Job) (err error) {
	w, err := r.env.Library.Create(j.TapeID, objectKey(j))
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = w.Abort()
		}
	}()

	termination := r.env.Scheduler.Termination()
	buf := make([]byte, hsm.ReadBufferSize)

	for off := int64(0); off < j.FileSize; {
		if termination.Forced() {
			return hsm.ErrTerminated
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		want := chunk(len(buf), j.FileSize-off)
		n, err := obj.ReadAt(buf[:want], off)
		switch {
		case err == io.EOF && n == want:
		case err == io.EOF:
			return errors.Wrapf(hsm.ErrSizeMismatch, "%s: short read at %d", j.FilePath, off+int64(n))
		case err != nil:
			return errors.Wrapf(err, "read %s", j.FilePath)
		}

		if _, err := w.Write(buf[:n]); err != nil {
			return errors.Wrapf(err, "write %s to %s", j.FilePath, j.TapeID)
		}

		off += int64(n)
	}

	return w.Commit()
}

// copyFromTape writes the tape copy back into the file. The object must hold exactly
// j.FileSize bytes.
func (r *Runner) copyFromTape(ctx context.Context, obj fsobj.FsObj, j *hsmmodel.Job) error {
	rd, err := r.env.Library.OpenRead(j.TapeID, objectKey(j))
	if err != nil {
		return errors.Wrapf(err, "open %s on %s", j.FilePath, j.TapeID)
	}
	defer rd.Close()

	termination := r.env.Scheduler.Termination()
	buf := make([]byte, hsm.ReadBufferSize)

	for off := int64(0); off < j.FileSize; {
		if termination.Forced() {
			return hsm.ErrTerminated
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		want := chunk(len(buf), j.FileSize-off)
		n, err := io.ReadFull(rd, buf[:want])
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return errors.Wrapf(hsm.ErrSizeMismatch, "%s: tape copy ends at %d of %d", j.FilePath, off+int64(n), j.FileSize)
		case err != nil:
			return errors.Wrapf(err, "read %s from %s", j.FilePath, j.TapeID)
		}

		written, err := obj.WriteAt(buf[:n], off)
		if err != nil {
			return errors.Wrapf(err, "write %s", j.FilePath)
		}
		if written != n {
			return errors.Wrapf(hsm.ErrSizeMismatch, "%s: short write at %d", j.FilePath, off+int64(written))
		}

		off += int64(n)
	}

	return nil
}

func chunk(bufSize int, remaining int64) int {
	if remaining < int64(bufSize) {
		return int(remaining)
	}
	return bufSize
}
