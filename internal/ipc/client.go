package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Status retrieves the daemon runtime summary.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Kiosk.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Queue retrieves the playback rotation.
func (c *Client) Queue() (*QueueResponse, error) {
	var resp QueueResponse
	if err := c.client.Call("Kiosk.Queue", QueueRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tasks lists distribution tasks. all includes terminal tasks.
func (c *Client) Tasks(all bool) (*TasksResponse, error) {
	var resp TasksResponse
	if err := c.client.Call("Kiosk.Tasks", TasksRequest{All: all}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Assets lists the media catalog.
func (c *Client) Assets() (*AssetsResponse, error) {
	var resp AssetsResponse
	if err := c.client.Call("Kiosk.Assets", AssetsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Control applies a playback command.
func (c *Client) Control(req ControlRequest) (*ControlResponse, error) {
	var resp ControlResponse
	if err := c.client.Call("Kiosk.Control", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Distribute submits a distribution task.
func (c *Client) Distribute(req DistributeRequest) (*DistributeResponse, error) {
	var resp DistributeResponse
	if err := c.client.Call("Kiosk.Distribute", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveAsset deletes a catalog asset by id.
func (c *Client) RemoveAsset(id string) (*RemoveAssetResponse, error) {
	var resp RemoveAssetResponse
	if err := c.client.Call("Kiosk.RemoveAsset", RemoveAssetRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report builds a full state report on demand.
func (c *Client) Report() (*ReportResponse, error) {
	var resp ReportResponse
	if err := c.client.Call("Kiosk.Report", ReportRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Kiosk.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
