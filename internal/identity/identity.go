package identity

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
)

// Identity is the filesystem and process identity an operation runs under.
// It is constructed once and passed explicitly, so tests can run every
// component without elevated privilege by using Current().
type Identity struct {
	// Username is the account name.
	Username string
	// UID is the numeric user ID.
	UID int
	// GID is the numeric primary group ID.
	GID int
}

// Current returns the identity of the running process.
func Current() *Identity {
	name := strconv.Itoa(os.Getuid())
	if u, err := user.Current(); err == nil {
		name = u.Username
	}

	return &Identity{
		Username: name,
		UID:      os.Getuid(),
		GID:      os.Getgid(),
	}
}

// Lookup resolves an account name to an Identity.
func Lookup(username string) (*Identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, fmt.Errorf("lookup account %s: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return nil, fmt.Errorf("parse uid of %s: %w", username, err)
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return nil, fmt.Errorf("parse gid of %s: %w", username, err)
	}

	return &Identity{Username: username, UID: uid, GID: gid}, nil
}

// IsCurrent reports whether the identity matches the running process.
func (id *Identity) IsCurrent() bool {
	return id.UID == os.Getuid()
}

// Apply configures the command to execute under this identity.
// It is a no-op when the identity matches the running process, which lets
// unprivileged tests exercise the same code path.
func (id *Identity) Apply(cmd *exec.Cmd) {
	if id == nil || id.IsCurrent() {
		return
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}

	cmd.SysProcAttr.Credential = &syscall.Credential{
		Uid: uint32(id.UID),
		Gid: uint32(id.GID),
	}
}

// Chown transfers ownership of a single path to this identity.
func (id *Identity) Chown(path string) error {
	if id == nil || id.IsCurrent() {
		return nil
	}

	if err := os.Chown(path, id.UID, id.GID); err != nil {
		return fmt.Errorf("chown %s: %w", path, err)
	}

	return nil
}

// ChownTree transfers ownership of a directory tree to this identity.
func (id *Identity) ChownTree(root string) error {
	if id == nil || id.IsCurrent() {
		return nil
	}

	return filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		return id.Chown(path)
	})
}
