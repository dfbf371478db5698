// Package composer transforms a VM catalog record plus its resolved disks,
// image and host-local interface link names into the libvirt domain XML the
// hypervisor consumes. The transform is pure: no I/O, no catalog reads, and
// equal inputs produce byte-equal documents.
package composer

import (
	"encoding/xml"

	"github.com/cuemby/virtus/pkg/types"
	"github.com/cuemby/virtus/pkg/verr"
)

// DiskSource pairs a Disk record with its resolved backing file path
// (pool path + file name, resolved by the caller on the owning host).
type DiskSource struct {
	Disk *types.Disk
	Path string
}

// Link is one pre-resolved host-local interface: the link name the domain
// attaches to and the optional MAC from the Interface record.
type Link struct {
	Dev string
	MAC string
}

type domain struct {
	XMLName xml.Name `xml:"domain"`
	Type    string   `xml:"type,attr"`
	Name    string   `xml:"name"`
	UUID    string   `xml:"uuid"`
	Memory  memory   `xml:"memory"`
	VCPU    uint32   `xml:"vcpu"`
	OS      osElem   `xml:"os"`
	Devices devices  `xml:"devices"`
}

type memory struct {
	Unit string `xml:"unit,attr"`
	Size uint64 `xml:",chardata"`
}

type osElem struct {
	Type osType `xml:"type"`
}

type osType struct {
	Arch    string `xml:"arch,attr"`
	Machine string `xml:"machine,attr"`
	Text    string `xml:",chardata"`
}

type devices struct {
	Disks      []disk      `xml:"disk"`
	Interfaces []netif     `xml:"interface"`
	Console    console     `xml:"console"`
	Input      input       `xml:"input"`
	Graphics   graphics    `xml:"graphics"`
	RNG        rng         `xml:"rng"`
}

type disk struct {
	Type   string      `xml:"type,attr"`
	Device string      `xml:"device,attr"`
	Driver diskDriver  `xml:"driver"`
	Source diskSource  `xml:"source"`
	Target diskTarget  `xml:"target"`
	Boot   *bootOrder  `xml:"boot,omitempty"`
}

type diskDriver struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type diskSource struct {
	File string `xml:"file,attr"`
}

type diskTarget struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr"`
}

type bootOrder struct {
	Order int `xml:"order,attr"`
}

type netif struct {
	Type   string     `xml:"type,attr"`
	MAC    *macAddr   `xml:"mac,omitempty"`
	Source ifSource   `xml:"source"`
	Model  ifModel    `xml:"model"`
}

type macAddr struct {
	Address string `xml:"address,attr"`
}

type ifSource struct {
	Dev  string `xml:"dev,attr"`
	Mode string `xml:"mode,attr"`
}

type ifModel struct {
	Type string `xml:"type,attr"`
}

type console struct {
	Type string `xml:"type,attr"`
}

type input struct {
	Type string `xml:"type,attr"`
	Bus  string `xml:"bus,attr"`
}

type graphics struct {
	Type     string        `xml:"type,attr"`
	Port     int           `xml:"port,attr"`
	TLSPort  int           `xml:"tlsPort,attr"`
	Autoport string        `xml:"autoport,attr"`
	Image    graphicsImage `xml:"image"`
}

type graphicsImage struct {
	Compression string `xml:"compression,attr"`
}

type rng struct {
	Model   string     `xml:"model,attr"`
	Backend rngBackend `xml:"backend"`
}

type rngBackend struct {
	Model string `xml:"model,attr"`
	Text  string `xml:",chardata"`
}

// diskDev returns the virtio target name for the i-th disk: vda, vdb, ...
func diskDev(i int) string {
	return "vd" + string(rune('a'+i))
}

// Compose builds the domain XML for vm. disks must be resolved to their
// backing file paths, links must carry one host-local link per interface,
// both in the VM record's reference order. The image becomes a cdrom with
// boot order 1 only when flagged as an installer.
func Compose(vm *types.VM, disks []DiskSource, image *types.Image, links []Link) ([]byte, error) {
	if vm == nil {
		return nil, verr.Validationf("vm record is required")
	}
	if len(disks) != len(vm.DiskIDs) {
		return nil, verr.Validationf("vm %s references %d disks, %d resolved", vm.ID, len(vm.DiskIDs), len(disks))
	}
	if len(links) != len(vm.InterfaceIDs) {
		return nil, verr.Validationf("vm %s references %d interfaces, %d link names resolved", vm.ID, len(vm.InterfaceIDs), len(links))
	}
	if image == nil {
		return nil, verr.Validationf("vm %s image is required", vm.ID)
	}

	d := domain{
		Type: "kvm",
		Name: vm.Name,
		UUID: vm.ID.String(),
		Memory: memory{
			Unit: "bytes",
			Size: vm.MemoryBytes,
		},
		VCPU: vm.VCPUs,
		OS: osElem{
			Type: osType{Arch: "x86_64", Machine: "q35", Text: "hvm"},
		},
		Devices: devices{
			Console:  console{Type: "pty"},
			Input:    input{Type: "tablet", Bus: "usb"},
			Graphics: graphics{
				Type:     "spice",
				Port:     -1,
				TLSPort:  -1,
				Autoport: "yes",
				Image:    graphicsImage{Compression: "off"},
			},
			RNG: rng{
				Model:   "virtio",
				Backend: rngBackend{Model: "random", Text: "/dev/urandom"},
			},
		},
	}

	for i, ds := range disks {
		d.Devices.Disks = append(d.Devices.Disks, disk{
			Type:   "file",
			Device: "disk",
			Driver: diskDriver{Name: "qemu", Type: "qcow2"},
			Source: diskSource{File: ds.Path},
			Target: diskTarget{Dev: diskDev(i), Bus: "virtio"},
		})
	}

	if image.Installer {
		d.Devices.Disks = append(d.Devices.Disks, disk{
			Type:   "file",
			Device: "cdrom",
			Driver: diskDriver{Name: "qemu", Type: "raw"},
			Source: diskSource{File: image.Filename},
			Target: diskTarget{Dev: "sda", Bus: "sata"},
			Boot:   &bootOrder{Order: 1},
		})
	}

	for _, link := range links {
		nif := netif{
			Type:   "direct",
			Source: ifSource{Dev: link.Dev, Mode: "bridge"},
			Model:  ifModel{Type: "virtio"},
		}
		if link.MAC != "" {
			nif.MAC = &macAddr{Address: link.MAC}
		}
		d.Devices.Interfaces = append(d.Devices.Interfaces, nif)
	}

	return xml.MarshalIndent(d, "", "  ")
}
