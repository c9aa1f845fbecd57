package server

import (
	"context"

	"connectrpc.com/connect"
)

// Client calls an ExecService.
type Client struct {
	run    *connect.Client[RunRequest, RunResponse]
	verify *connect.Client[VerifyRequest, VerifyResponse]
	peer   string
}

// NewClient creates a client for the service at baseURL. A non-empty peer
// is sent in the Kestrel-Peer header.
func NewClient(httpClient connect.HTTPClient, baseURL, peer string) *Client {
	codec := connect.WithCodec(cborCodec{})
	return &Client{
		run:    connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, codec),
		verify: connect.NewClient[VerifyRequest, VerifyResponse](httpClient, baseURL+VerifyProcedure, codec),
		peer:   peer,
	}
}

// Run submits a program.
func (c *Client) Run(ctx context.Context, msg *RunRequest) (*RunResponse, error) {
	req := connect.NewRequest(msg)
	if c.peer != "" {
		req.Header().Set(PeerHeader, c.peer)
	}
	resp, err := c.run.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Verify asks the service to verify a program.
func (c *Client) Verify(ctx context.Context, program []byte) (*VerifyResponse, error) {
	req := connect.NewRequest(&VerifyRequest{Program: program})
	if c.peer != "" {
		req.Header().Set(PeerHeader, c.peer)
	}
	resp, err := c.verify.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
