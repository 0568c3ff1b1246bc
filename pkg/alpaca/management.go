package alpaca

import (
	"context"
	"net/http"

	"astrobridge/pkg/device"
)

// ServerDescription is the reply of /management/v1/description.
type ServerDescription struct {
	Name                string `json:"ServerName"`
	Manufacturer        string `json:"Manufacturer"`
	ManufacturerVersion string `json:"ManufacturerVersion"`
	Location            string `json:"Location"`
}

// DeviceDescription is one entry of /management/v1/configureddevices.
type DeviceDescription struct {
	Name     string `json:"DeviceName"`
	Type     string `json:"DeviceType"`
	Number   int    `json:"DeviceNumber"`
	UniqueID string `json:"UniqueID"`
}

func (d DeviceDescription) Kind() device.Kind {
	return device.ParseKind(d.Type)
}

func (c *Client) management(ctx context.Context, path string) *Response {
	return c.do(ctx, http.MethodGet, c.base+"/management/"+path, "management", path, nil)
}

func (c *Client) APIVersions(ctx context.Context) ([]int, error) {
	return c.management(ctx, "apiversions").Ints()
}

func (c *Client) ServerInfo(ctx context.Context) (ServerDescription, error) {
	var desc ServerDescription
	err := c.management(ctx, "v1/description").Decode(&desc)
	return desc, err
}

func (c *Client) ConfiguredDevices(ctx context.Context) ([]DeviceDescription, error) {
	var devices []DeviceDescription
	err := c.management(ctx, "v1/configureddevices").Decode(&devices)
	return devices, err
}
