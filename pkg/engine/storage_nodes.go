package engine

import (
	"fmt"
	"strconv"

	"github.com/nostalgiatan/bey-sub000/pkg/discovery"
	"github.com/nostalgiatan/bey-sub000/pkg/events"
	"github.com/nostalgiatan/bey-sub000/pkg/storage"
)

// trackStorageNodes keeps storage's replica-placement registry in sync with
// discovery, reproducing the original Rust BeyStorageManager's
// start_storage_node_manager background task (bey-storage/src/
// bey_storage.rs) that the distilled spec.md dropped: storage never dials
// discovery itself, it just reacts to the events discovery already emits.
func (e *Engine) trackStorageNodes(sub <-chan events.Event, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch ev.Kind {
			case events.KindDeviceDiscovered, events.KindDeviceUpdated:
				e.syncStorageNode(fmt.Sprint(ev.Fields["device_id"]))
			case events.KindDeviceRemoved:
				e.storage.RemoveStorageNode(fmt.Sprint(ev.Fields["device_id"]))
			}
		}
	}
}

func (e *Engine) syncStorageNode(deviceID string) {
	d, ok := e.findDevice(deviceID)
	if !ok {
		return
	}
	e.storage.UpdateStorageNode(storage.StorageNode{
		DeviceID:       d.DeviceID,
		Address:        fmt.Sprintf("%s:%d", d.Hostname, d.Port),
		AvailableSpace: availableSpace(d),
		Online:         true,
		Weight:         float64(d.Weight),
		LastHeartbeat:  d.LastSeen,
	})
}

// availableSpace reads the "available_space" TXT capability a peer may
// advertise, per the original StorageNode.available_space field; devices
// that don't advertise one are treated as capacity-unknown (0), which sorts
// them last in SelectReplicaTargets rather than failing replication.
func availableSpace(d *discovery.Device) uint64 {
	raw, ok := d.Capabilities["available_space"]
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
