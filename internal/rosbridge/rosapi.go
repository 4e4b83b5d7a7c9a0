package rosbridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// сервисы узла rosapi, который запускается вместе с rosbridge_server
const (
	rosapiTopics        = "/rosapi/topics"
	rosapiNodes         = "/rosapi/nodes"
	rosapiServices      = "/rosapi/services"
	rosapiGetParam      = "/rosapi/get_param"
	rosapiSetParam      = "/rosapi/set_param"
	rosapiDeleteParam   = "/rosapi/delete_param"
	rosapiGetParamNames = "/rosapi/get_param_names"
)

type topicsResponse struct {
	Topics []string `json:"topics"`
	Types  []string `json:"types"`
}

type nodesResponse struct {
	Nodes []string `json:"nodes"`
}

type servicesResponse struct {
	Services []string `json:"services"`
}

type paramNamesResponse struct {
	Names []string `json:"names"`
}

type paramValueResponse struct {
	Value string `json:"value"`
}

// listCall общий код для rosapi-сервисов, которые отдают список строк.
// cb может быть nil, тогда ответ просто снимает ожидающий вызов.
func listCall[R any](c *Client, name, typ string, pick func(R) []string, cb func([]string), onFailure func(json.RawMessage)) error {
	return NewService(c, name, typ).Call(struct{}{}, func(values json.RawMessage) {
		var r R
		if err := json.Unmarshal(values, &r); err != nil {
			c.log.Warn("decode rosapi response", "service", name, "err", err)
			c.errs.emit(fmt.Errorf("decode %s: %w", name, err))
			return
		}
		if cb != nil {
			cb(pick(r))
		}
	}, onFailure)
}

func listCallContext[R any](ctx context.Context, c *Client, name, typ string, pick func(R) []string) ([]string, error) {
	values, err := NewService(c, name, typ).CallContext(ctx, struct{}{})
	if err != nil {
		return nil, err
	}
	var r R
	if err := json.Unmarshal(values, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return pick(r), nil
}

// GetTopics отдаёт в cb список топиков (/rosapi/topics).
func (c *Client) GetTopics(cb func(topics []string), onFailure func(json.RawMessage)) error {
	return listCall(c, rosapiTopics, "rosapi/Topics", func(r topicsResponse) []string { return r.Topics }, cb, onFailure)
}

// GetNodes отдаёт в cb список узлов (/rosapi/nodes).
func (c *Client) GetNodes(cb func(nodes []string), onFailure func(json.RawMessage)) error {
	return listCall(c, rosapiNodes, "rosapi/Nodes", func(r nodesResponse) []string { return r.Nodes }, cb, onFailure)
}

func (c *Client) GetServices(cb func(services []string), onFailure func(json.RawMessage)) error {
	return listCall(c, rosapiServices, "rosapi/Services", func(r servicesResponse) []string { return r.Services }, cb, onFailure)
}

// TopicsContext блокирующий GetTopics.
func (c *Client) TopicsContext(ctx context.Context) ([]string, error) {
	return listCallContext(ctx, c, rosapiTopics, "rosapi/Topics", func(r topicsResponse) []string { return r.Topics })
}

func (c *Client) NodesContext(ctx context.Context) ([]string, error) {
	return listCallContext(ctx, c, rosapiNodes, "rosapi/Nodes", func(r nodesResponse) []string { return r.Nodes })
}

func (c *Client) ServicesContext(ctx context.Context) ([]string, error) {
	return listCallContext(ctx, c, rosapiServices, "rosapi/Services", func(r servicesResponse) []string { return r.Services })
}

// ParamNamesContext имена всех параметров на сервере параметров.
func (c *Client) ParamNamesContext(ctx context.Context) ([]string, error) {
	return listCallContext(ctx, c, rosapiGetParamNames, "rosapi/GetParamNames", func(r paramNamesResponse) []string { return r.Names })
}
