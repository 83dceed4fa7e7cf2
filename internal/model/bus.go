// internal/model/bus.go
package model

import (
	"encoding/json"
	"time"

	"maus-bus/internal/bus"
	"maus-bus/internal/discovery"
	"maus-bus/internal/driver"
	"maus-bus/internal/drivercfg"
)

// ScanMode selects the scan algorithm
type ScanMode string

const (
	ScanModeQuick ScanMode = "quick"
	ScanModeFull  ScanMode = "full"
)

// Valid reports whether m names a known mode
func (m ScanMode) Valid() bool {
	return m == ScanModeQuick || m == ScanModeFull
}

// DescriptorView is the API rendering of a device descriptor
type DescriptorView struct {
	Valid              bool     `json:"valid"`
	VendorID           uint16   `json:"vendor_id"`
	ProductID          uint16   `json:"product_id"`
	Serial             uint16   `json:"serial"`
	ProductType        uint16   `json:"product_type"`
	Category           uint8    `json:"category"`
	Subtype            uint8    `json:"subtype"`
	FeatureConfigCount uint8    `json:"feature_config_count"`
	UserDataAddress    uint8    `json:"user_data_address"`
	Features           []string `json:"features"`
	VendorName         string   `json:"vendor_name"`
	ProductName        string   `json:"product_name"`
}

// NewDescriptorView renders d
func NewDescriptorView(d bus.Descriptor) DescriptorView {
	features := d.Features.Names()
	if features == nil {
		features = []string{}
	}
	return DescriptorView{
		Valid:              d.Valid(),
		VendorID:           d.VendorID,
		ProductID:          d.ProductID,
		Serial:             d.Serial,
		ProductType:        uint16(d.ProductType),
		Category:           d.ProductType.Category(),
		Subtype:            d.ProductType.Subtype(),
		FeatureConfigCount: d.FeatureConfigCount,
		UserDataAddress:    d.UserDataAddress,
		Features:           features,
		VendorName:         d.VendorName,
		ProductName:        d.ProductName,
	}
}

// DeviceEntry is a scan result
type DeviceEntry struct {
	Address    string         `json:"address"`
	Depth      int            `json:"depth"`
	Status     string         `json:"status"`
	Registered bool           `json:"registered"`
	Descriptor DescriptorView `json:"descriptor"`
}

// NewDeviceEntry renders a scan entry
func NewDeviceEntry(e discovery.ScanEntry, registered bool) DeviceEntry {
	return DeviceEntry{
		Address:    e.Address.String(),
		Depth:      e.Address.Depth(),
		Status:     e.Status.String(),
		Registered: registered,
		Descriptor: NewDescriptorView(e.Descriptor),
	}
}

// InstanceView is a registered driver instance
type InstanceView struct {
	Address      string         `json:"address"`
	Capabilities []string       `json:"capabilities"`
	Descriptor   DescriptorView `json:"descriptor"`
	RegisteredAt time.Time      `json:"registered_at"`
	ConfigID     string         `json:"config_id,omitempty"`
	ConfigName   string         `json:"config_name,omitempty"`
}

// NewInstanceView renders inst; cfg may be nil
func NewInstanceView(inst *driver.Instance, cfg *drivercfg.Config) InstanceView {
	caps := inst.Capabilities()
	if caps == nil {
		caps = []string{}
	}
	v := InstanceView{
		Address:      inst.Address.String(),
		Capabilities: caps,
		Descriptor:   NewDescriptorView(inst.Descriptor),
		RegisteredAt: inst.RegisteredAt,
	}
	if cfg != nil {
		v.ConfigID = cfg.ID
		v.ConfigName = cfg.DisplayName
	}
	return v
}

// ScanRequest is the body of POST /bus/scan
type ScanRequest struct {
	Mode     ScanMode `json:"mode" form:"mode"`
	Clear    bool     `json:"clear" form:"clear"`
	Register *bool    `json:"register,omitempty" form:"register"`
}

// ScanResult summarises one scan
type ScanResult struct {
	ID         string        `json:"id"`
	Mode       ScanMode      `json:"mode"`
	Found      int           `json:"found"`
	Registered []string      `json:"registered"`
	Failed     []string      `json:"failed,omitempty"`
	Entries    []DeviceEntry `json:"entries"`
	Duration   time.Duration `json:"duration_ns"`
}

// ConfigView is the API rendering of a loaded driver definition
type ConfigView struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"display_name"`
	State       string           `json:"state"`
	Match       *drivercfg.Match `json:"match,omitempty"`
	Functions   []string         `json:"functions"`
	Events      []string         `json:"events"`
	Variables   map[string]int   `json:"variables"`
	Config      json.RawMessage  `json:"config,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	LoadedAt    time.Time        `json:"loaded_at"`
	BoundTo     []string         `json:"bound_to,omitempty"`
}

// NewConfigView renders cfg
func NewConfigView(cfg *drivercfg.Config, boundTo []string) ConfigView {
	return ConfigView{
		ID:          cfg.ID,
		DisplayName: cfg.DisplayName,
		State:       cfg.State().String(),
		Match:       cfg.Match,
		Functions:   cfg.FunctionNames(),
		Events:      cfg.EventNames(),
		Variables:   cfg.Variables(),
		Config:      cfg.RawConfig(),
		Warnings:    cfg.Warnings,
		LoadedAt:    cfg.LoadedAt,
		BoundTo:     boundTo,
	}
}

// InvokeRequest carries the optional argument of a function or event call
type InvokeRequest struct {
	Arg json.RawMessage `json:"arg,omitempty"`
}

// ActionRequest runs one ad-hoc action against a loaded definition
type ActionRequest struct {
	Callee string          `json:"callee" binding:"required"`
	Args   json.RawMessage `json:"args,omitempty"`
	Arg    json.RawMessage `json:"arg,omitempty"`
}

// VariableRequest sets a driver variable
type VariableRequest struct {
	Value *int `json:"value" binding:"required"`
}

// VariableView is a single variable
type VariableView struct {
	ConfigID string `json:"config_id"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
}
