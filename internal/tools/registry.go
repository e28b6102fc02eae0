package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

// Syncer wakes the account workers that carry queued operations to the server
type Syncer interface {
	SyncAccount(ctx context.Context, accountName string, folderName string) error
	Release(accountName string) error
	Reconnect(accountName string) error
}

// Notifications lists recent errors surfaced to the user
type Notifications interface {
	Recent() []email.Notification
}

// Deps are the services the tools work against
type Deps struct {
	Config        *config.Config
	Store         *cache.Store
	Files         *cache.Files
	Syncer        Syncer
	Notifications Notifications
	Logger        *logrus.Logger
}

// Registry manages MCP tools
type Registry struct {
	deps  Deps
	tools map[string]Tool
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// NewRegistry creates a new tool registry
func NewRegistry(deps Deps) *Registry {
	reg := &Registry{
		deps:  deps,
		tools: make(map[string]Tool),
	}
	reg.registerTools()
	return reg
}

// registerTools registers all available tools
func (r *Registry) registerTools() {
	toolList := []Tool{
		&ListFoldersTool{r.deps},
		&SearchEmailsTool{r.deps},
		&GetEmailTool{r.deps},
		&SendEmailTool{r.deps},
		&UpdateEmailTool{r.deps},
		&SyncTool{r.deps},
	}
	if r.deps.Notifications != nil {
		toolList = append(toolList, &NotificationsTool{r.deps})
	}

	for _, tool := range toolList {
		r.tools[tool.Name()] = tool
		r.deps.Logger.WithField("tool", tool.Name()).Debug("Registered tool")
	}
	r.deps.Logger.WithField("count", len(r.tools)).Info("Registered tools")
}

// GetTool returns a tool by name
func (r *Registry) GetTool(name string) (Tool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// ListTools returns all registered tools ordered by name
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// GetToolDefinitions returns tool definitions for MCP
func (r *Registry) GetToolDefinitions() []map[string]interface{} {
	tools := r.ListTools()
	definitions := make([]map[string]interface{}, 0, len(tools))
	for _, tool := range tools {
		definitions = append(definitions, map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}
	return definitions
}

func stringParam(params map[string]interface{}, name string) string {
	s, _ := params[name].(string)
	return strings.TrimSpace(s)
}

// intParam accepts JSON numbers and numeric strings
func intParam(params map[string]interface{}, name string) (int64, bool, error) {
	switch v := params[name].(type) {
	case nil:
		return 0, false, nil
	case float64:
		return int64(v), true, nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, true, nil
	}
	return 0, false, fmt.Errorf("invalid %s", name)
}

func addressParam(params map[string]interface{}, name string) types.AddressList {
	var list types.AddressList
	for _, addr := range strings.Split(stringParam(params, name), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			list = append(list, types.Address{Address: addr})
		}
	}
	return list
}

func lookupAccount(ctx context.Context, q *cache.Queries, name string) (*types.Account, error) {
	account, err := q.GetAccountByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

func lookupFolder(ctx context.Context, q *cache.Queries, account *types.Account, name string) (*types.Folder, error) {
	folder, err := q.GetFolderByName(ctx, account.ID, name)
	if err != nil {
		return nil, err
	}
	if folder == nil {
		return nil, fmt.Errorf("folder not found: %s", name)
	}
	return folder, nil
}
