package drivers

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"github.com/prometheus/procfs"
)

const (
	// Address used to find the outbound interface. Nothing is sent to it.
	routeProbeAddress = "8.8.8.8:80"
	loopbackAddress   = "127.0.0.1"
)

// hostDevice is the Device for drivers that read from the host.
type hostDevice struct{}

// procDevice is the Device for drivers that read from a proc filesystem.
type procDevice struct {
	fs procfs.FS
}

func openProc(mountPoint string, check func(procfs.FS) error) (sensor.Device, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	if err := check(fs); err != nil {
		return nil, err
	}
	return procDevice{fs: fs}, nil
}

type CPULoadReading struct {
	Load sensor.Field[float64] `json:"cpu_load"`
}

// CPULoad reports the one minute load average.
type CPULoad struct {
	MountPoint string
}

func NewCPULoad() *CPULoad {
	return &CPULoad{MountPoint: procfs.DefaultMountPoint}
}

func (c *CPULoad) Initialize() (sensor.Device, error) {
	return openProc(c.MountPoint, func(fs procfs.FS) error {
		_, err := fs.LoadAvg()
		return err
	})
}

func (c *CPULoad) Read(dev sensor.Device) (CPULoadReading, error) {
	d, err := sensor.DeviceAs[procDevice](dev)
	if err != nil {
		return CPULoadReading{}, err
	}
	load, err := d.fs.LoadAvg()
	if err != nil {
		return CPULoadReading{}, err
	}
	return CPULoadReading{Load: sensor.Float(load.Load1)}, nil
}

func (c *CPULoad) Unavailable() CPULoadReading {
	return CPULoadReading{}
}

type MemoryReading struct {
	UsedMB  sensor.Field[int] `json:"memory_used_mb"`
	TotalMB sensor.Field[int] `json:"memory_total_mb"`
}

// String is the used/total summary, "n/a" when not known.
func (m MemoryReading) String() string {
	used, ok := m.UsedMB.Get()
	total, ok2 := m.TotalMB.Get()
	if !ok || !ok2 {
		return sensor.NotAvailable
	}
	return fmt.Sprintf("%d/%d MB", used, total)
}

// Memory reports memory use, counting available memory as free.
type Memory struct {
	MountPoint string
}

func NewMemory() *Memory {
	return &Memory{MountPoint: procfs.DefaultMountPoint}
}

func (m *Memory) Initialize() (sensor.Device, error) {
	return openProc(m.MountPoint, func(fs procfs.FS) error {
		_, err := fs.Meminfo()
		return err
	})
}

func (m *Memory) Read(dev sensor.Device) (MemoryReading, error) {
	d, err := sensor.DeviceAs[procDevice](dev)
	if err != nil {
		return MemoryReading{}, err
	}
	info, err := d.fs.Meminfo()
	if err != nil {
		return MemoryReading{}, err
	}
	if info.MemTotal == nil {
		return MemoryReading{}, errors.New("no MemTotal in meminfo")
	}
	total := *info.MemTotal
	var available uint64
	if info.MemAvailable != nil {
		available = *info.MemAvailable
	} else {
		// Kernels before 3.14 have no MemAvailable.
		for _, v := range []*uint64{info.MemFree, info.Buffers, info.Cached} {
			if v != nil {
				available += *v
			}
		}
	}
	if available > total {
		available = total
	}
	return MemoryReading{
		UsedMB:  sensor.Value(int((total - available) / 1024)),
		TotalMB: sensor.Value(int(total / 1024)),
	}, nil
}

func (m *Memory) Unavailable() MemoryReading {
	return MemoryReading{}
}

type IPAddressReading struct {
	Address sensor.Field[string] `json:"ip_address"`
}

// IPAddress reports the address of the interface with the default route,
// or the loopback address when there is no route.
type IPAddress struct {
	dial func(network, address string) (net.Conn, error)
}

func NewIPAddress() *IPAddress {
	return &IPAddress{dial: func(network, address string) (net.Conn, error) {
		return net.DialTimeout(network, address, 100*time.Millisecond)
	}}
}

func (i *IPAddress) Initialize() (sensor.Device, error) {
	return hostDevice{}, nil
}

func (i *IPAddress) Read(sensor.Device) (IPAddressReading, error) {
	// A UDP dial only selects a route, no packet is sent.
	conn, err := i.dial("udp", routeProbeAddress)
	if err != nil {
		log.Debug("No route for IP address lookup: ", err)
		return IPAddressReading{Address: sensor.Value(loopbackAddress)}, nil
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return IPAddressReading{Address: sensor.Value(loopbackAddress)}, nil
	}
	return IPAddressReading{Address: sensor.Value(addr.IP.String())}, nil
}

func (i *IPAddress) Unavailable() IPAddressReading {
	return IPAddressReading{}
}
