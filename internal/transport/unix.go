package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// DialUnix connects to the mux server socket at path.
func DialUnix(path string) (*net.UnixConn, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dial unix %s: %w", path, err)
	}
	return conn, nil
}

// CheckSocketOwnership refuses a socket that is not owned by the
// current effective user. A socket planted by another user could act
// as a man in the middle for everything typed into the mux.
func CheckSocketOwnership(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFSOCK {
		return fmt.Errorf("%s exists but is not a socket", path)
	}
	if euid := uint32(unix.Geteuid()); st.Uid != euid {
		return fmt.Errorf("refusing socket %s owned by uid %d, our effective uid is %d", path, st.Uid, euid)
	}
	return nil
}
