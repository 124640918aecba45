package dominject

import (
	"context"
	"fmt"

	"github.com/hazyhaar/dominject/internal/kit"
)

type statusRequest struct {
	PageID string `json:"page_id,omitempty"`
}

type rescanRequest struct {
	PageID string `json:"page_id"`
}

type rescanResponse struct {
	PageID  string       `json:"page_id"`
	Results []ScanResult `json:"results"`
}

type detachRequest struct {
	PageID string `json:"page_id"`
}

// endpoints are shared by the HTTP routes and the MCP tools.
type endpoints struct {
	status       kit.Endpoint
	rescan       kit.Endpoint
	detach       kit.Endpoint
	integrations kit.Endpoint
}

func (i *Injector) endpoints() endpoints {
	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(i.logger, op))(ep)
	}
	return endpoints{
		status:       wrap("status", i.statusEndpoint),
		rescan:       wrap("rescan", i.rescanEndpoint),
		detach:       wrap("detach", i.detachEndpoint),
		integrations: wrap("integrations", i.integrationsEndpoint),
	}
}

func (i *Injector) statusEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*statusRequest)
	pages := i.Status()
	if r.PageID == "" {
		return pages, nil
	}
	for _, p := range pages {
		if p.ID == r.PageID {
			return []PageStatus{p}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPage, r.PageID)
}

func (i *Injector) rescanEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*rescanRequest)
	if r.PageID == "" {
		return nil, fmt.Errorf("dominject: page_id is required")
	}
	res, err := i.Rescan(ctx, r.PageID)
	if err != nil {
		return nil, err
	}
	return rescanResponse{PageID: r.PageID, Results: res}, nil
}

func (i *Injector) detachEndpoint(_ context.Context, req any) (any, error) {
	r := req.(*detachRequest)
	if err := i.DetachPage(r.PageID); err != nil {
		return nil, err
	}
	return map[string]string{"page_id": r.PageID, "status": "detached"}, nil
}

func (i *Injector) integrationsEndpoint(context.Context, any) (any, error) {
	return i.Integrations(), nil
}
