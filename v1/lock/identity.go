package lock

import (
	"net"
	"sync"
	"sync/atomic"
)

// Identity names one lock holder: the process's network address plus a
// process-wide task id. It is computed once per Holder and compared for
// equality to detect the same holder re-entering.
type Identity struct {
	Addr   string
	TaskID uint64
}

var taskCounter atomic.Uint64

var (
	hostAddrOnce sync.Once
	hostAddrVal  string
)

// LocalIdentity returns a fresh identity for this process with the next task
// id.
func LocalIdentity() Identity {
	return Identity{Addr: hostAddr(), TaskID: taskCounter.Add(1)}
}

// hostAddr returns the first non-loopback IPv4 address of this host, falling
// back to the loopback address when none is configured.
func hostAddr() string {
	hostAddrOnce.Do(func() {
		hostAddrVal = "127.0.0.1"
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				hostAddrVal = ip4.String()
				return
			}
		}
	})
	return hostAddrVal
}
