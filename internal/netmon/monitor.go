// Package netmon watches the host's network interfaces and runs the
// periodic connection health check for the supervised tunnel.
package netmon

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/user/tunnelguard/internal/event"
	"github.com/user/tunnelguard/internal/model"
	"github.com/user/tunnelguard/internal/util"
)

// DefaultPollInterval is the interface enumeration period.
const DefaultPollInterval = 5 * time.Second

// routeProbeAddr is only dialed logically; no packet is sent. The local
// address of the resulting UDP socket identifies the default-route
// interface.
const routeProbeAddr = "8.8.8.8:53"

// Enumerator produces an interface snapshot. Injectable for tests.
type Enumerator func() ([]model.InterfaceInfo, error)

// Monitor polls the interface table, classifies overall connectivity and
// reports changes. A route-carrying interface alone does not prove
// internet access; the reachability probe decides ConnectedNoInternet.
// Snapshots are replaced wholesale; getters return copies taken under
// one lock.
type Monitor struct {
	enumerate Enumerator
	interval  time.Duration
	probe     Prober
	emitter   *event.Emitter

	mu          sync.Mutex
	active      bool
	stop        chan struct{}
	state       model.NetworkState
	interfaces  []model.InterfaceInfo
	activeIface model.InterfaceInfo
	activeOK    bool
	lastChange  time.Time
	onChange    func(reason string)

	loop sync.WaitGroup
}

// NewMonitor creates a monitor. A nil enumerator selects the system
// interface table, a nil prober the default HTTP probe; a zero interval
// selects the default poll period.
func NewMonitor(enumerate Enumerator, interval time.Duration, probe Prober, emitter *event.Emitter) *Monitor {
	if enumerate == nil {
		enumerate = SystemInterfaces
	}
	if probe == nil {
		probe = HTTPProbe(DefaultProbeURL, DefaultProbeTimeout)
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		enumerate: enumerate,
		interval:  interval,
		probe:     probe,
		emitter:   emitter,
		state:     model.NetworkUnknown,
	}
}

// OnChange registers a callback fired when the interface set changes.
// The reason string describes what moved.
func (m *Monitor) OnChange(fn func(reason string)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Start performs an immediate poll and launches the polling loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	util.Info("Network monitoring started (interval %s)", m.interval)
	m.poll()

	m.loop.Add(1)
	go func() {
		defer m.loop.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	close(m.stop)
	m.mu.Unlock()

	m.loop.Wait()
	util.Info("Network monitoring stopped")
}

// State returns the current connectivity classification.
func (m *Monitor) State() model.NetworkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Interfaces returns a copy of the latest interface snapshot.
func (m *Monitor) Interfaces() []model.InterfaceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.InterfaceInfo, len(m.interfaces))
	copy(out, m.interfaces)
	return out
}

// ActiveInterface returns the interface carrying the default route, if
// any.
func (m *Monitor) ActiveInterface() (model.InterfaceInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeIface, m.activeOK
}

// LastChange returns when the interface set last changed. Zero until the
// first change.
func (m *Monitor) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// poll takes one snapshot, detects changes against the previous one and
// publishes any state transition.
func (m *Monitor) poll() {
	ifaces, err := m.enumerate()
	if err != nil {
		util.Warn("Interface enumeration failed: %v", err)
		return
	}

	state := Classify(ifaces)
	activeIface, activeOK := pickActive(ifaces)

	// A default route is not internet access. Only the probe can confirm
	// upstream reachability; it runs outside the lock.
	if activeOK {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultProbeTimeout)
		reachable := m.probe(ctx)
		cancel()
		if !reachable {
			state = model.NetworkConnectedNoInternet
		}
	}

	m.mu.Lock()
	first := m.interfaces == nil
	reason := describeChange(m.interfaces, ifaces)
	m.interfaces = ifaces
	m.activeIface = activeIface
	m.activeOK = activeOK
	prevState := m.state
	m.state = state
	var fn func(string)
	if !first && reason != "" {
		m.lastChange = time.Now()
		fn = m.onChange
	}
	m.mu.Unlock()

	if prevState != state {
		util.Info("Network state: %s -> %s", prevState, state)
		m.emitter.NetworkStateChanged(state)
	}
	if fn != nil {
		util.Info("Network change detected: %s", reason)
		fn(reason)
	}
}

// Classify derives the overall connectivity from an interface snapshot.
// The link type of the route-carrying interface decides between the
// Wifi, Ethernet and Other states.
func Classify(ifaces []model.InterfaceInfo) model.NetworkState {
	connected := false
	for _, in := range ifaces {
		if in.Connected {
			connected = true
			break
		}
	}
	if !connected {
		return model.NetworkDisconnected
	}

	active, ok := pickActive(ifaces)
	if !ok {
		return model.NetworkConnectedNoInternet
	}
	switch {
	case active.IsWifi:
		return model.NetworkConnectedWifi
	case active.IsEthernet:
		return model.NetworkConnectedEthernet
	default:
		return model.NetworkConnectedOther
	}
}

// pickActive returns the interface carrying the default route.
func pickActive(ifaces []model.InterfaceInfo) (model.InterfaceInfo, bool) {
	for _, in := range ifaces {
		if in.Connected && in.HasInternet {
			return in, true
		}
	}
	return model.InterfaceInfo{}, false
}

// describeChange reports what differs between two snapshots, or "" when
// nothing relevant changed. Both count and addressing changes count.
func describeChange(before, after []model.InterfaceInfo) string {
	if len(before) != len(after) {
		return "interface count changed"
	}
	prev := make(map[string]model.InterfaceInfo, len(before))
	for _, in := range before {
		prev[in.Name] = in
	}
	for _, in := range after {
		p, ok := prev[in.Name]
		if !ok {
			return "interface " + in.Name + " appeared"
		}
		if p.Connected != in.Connected {
			return "interface " + in.Name + " link state changed"
		}
		if p.IPAddress != in.IPAddress {
			return "interface " + in.Name + " addressing changed"
		}
	}
	return ""
}

// SystemInterfaces enumerates the host interface table. Loopback and
// down interfaces without addresses are reported as disconnected; the
// interface carrying the default route is flagged as having internet.
func SystemInterfaces() ([]model.InterfaceInfo, error) {
	sysIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	routeIP := defaultRouteIP()

	var out []model.InterfaceInfo
	for _, in := range sysIfaces {
		if in.Flags&net.FlagLoopback != 0 {
			continue
		}

		info := model.InterfaceInfo{
			Name:       in.Name,
			Index:      in.Index,
			IsWifi:     looksWireless(in.Name),
			IsEthernet: looksWired(in.Name),
		}

		if in.Flags&net.FlagUp != 0 {
			if addrs, err := in.Addrs(); err == nil {
				for _, a := range addrs {
					ip := addrIP(a)
					if ip == nil || ip.IsLoopback() {
						continue
					}
					info.Connected = true
					if info.IPAddress == "" || ip.To4() != nil {
						info.IPAddress = ip.String()
					}
					if routeIP != nil && ip.Equal(routeIP) {
						info.HasInternet = true
					}
				}
			}
		}

		out = append(out, info)
	}
	return out, nil
}

// defaultRouteIP returns the local address the kernel would use to reach
// a public host, or nil when no route exists.
func defaultRouteIP() net.IP {
	conn, err := net.Dial("udp", routeProbeAddr)
	if err != nil {
		return nil
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP
	}
	return nil
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func looksWireless(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "wl") || strings.Contains(n, "wifi") || strings.Contains(n, "wireless")
}

func looksWired(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "en") || strings.HasPrefix(n, "eth")
}
