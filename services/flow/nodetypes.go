package flow

import "math"

// NodeType is the tag selecting a node's capability variant.
type NodeType string

const (
	TypeInitializer NodeType = "initializer"
	TypeUser        NodeType = "user"
	TypeConversable NodeType = "conversable"
	TypeAPI         NodeType = "api"
	TypeText        NodeType = "text"
	TypeInput       NodeType = "input"
	TypeDelay       NodeType = "delay"
	TypeAssistant   NodeType = "assistant"
	TypeCondition   NodeType = "condition"
	TypeQuickReply  NodeType = "quickreply"
	TypeContainer   NodeType = "container"
	TypeBranch      NodeType = "branch"
	TypeGroupChat   NodeType = "groupchat"
	TypeNote        NodeType = "note"
)

// Capability is the behavior bundle attached to a node type.
type Capability struct {
	Type        NodeType       `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ClassType   string         `json:"class_type"`
	Width       float64        `json:"width,omitempty"`
	Height      float64        `json:"height,omitempty"`
	Defaults    map[string]any `json:"data,omitempty"`

	// Conversable nodes take part in agent-to-agent converse edges.
	Conversable bool `json:"-"`
	// Group nodes can contain other nodes. Groups never nest.
	Group bool `json:"-"`

	handles func(data map[string]any) int
}

// Registry maps node types to their capability bundle.
type Registry map[NodeType]Capability

// catalogOrder is the order in which node types are offered in the palette.
var catalogOrder = []NodeType{
	TypeInitializer, TypeConversable, TypeUser, TypeGroupChat, TypeAPI, TypeNote,
	TypeText, TypeInput, TypeDelay, TypeAssistant, TypeCondition, TypeQuickReply,
	TypeContainer, TypeBranch,
}

// NewRegistry creates a registry populated with all built-in node types.
func NewRegistry() Registry {
	return Registry{
		TypeInitializer: {
			Type: TypeInitializer, Name: "Initializer", ClassType: "Initializer",
			Description: "The first node in the flow",
		},
		TypeConversable: {
			Type: TypeConversable, Name: "Agent", ClassType: "ConversableAgent",
			Description: "A Conversable Agent",
			Conversable: true,
			Defaults:    map[string]any{"max_consecutive_auto_reply": 10, "tools": []any{}},
		},
		TypeUser: {
			Type: TypeUser, Name: "User", ClassType: "UserProxyAgent",
			Description: "A User Proxy Agent",
			Defaults: map[string]any{
				"human_input_mode":           "NEVER",
				"termination_msg":            "TERMINATE",
				"enable_code_execution":      true,
				"max_consecutive_auto_reply": 10,
				"tools":                      []any{},
			},
		},
		TypeGroupChat: {
			Type: TypeGroupChat, Name: "Group", ClassType: "GroupChat",
			Description: "Group several agents together",
			Width:       400, Height: 300,
			Conversable: true, Group: true,
		},
		TypeAPI: {
			Type: TypeAPI, Name: "Api", ClassType: "ApiNode",
			Description: "node for api calling",
			Width:       400, Height: 300,
		},
		TypeNote: {
			Type: TypeNote, Name: "Note", ClassType: "Note",
			Description: "Work as comment for the flow and node",
			Width:       400, Height: 200,
		},
		TypeText: {
			Type: TypeText, Name: "Text", ClassType: "TextNode",
			Description: "Send a static text message",
			Width:       150, Height: 100,
		},
		TypeInput: {
			Type: TypeInput, Name: "Input", ClassType: "InputNode",
			Description: "Ask the user for a value",
			Width:       150, Height: 100,
			Defaults:    map[string]any{"variableName": "userInput", "prompt": "Please enter your input:"},
		},
		TypeDelay: {
			Type: TypeDelay, Name: "Delay", ClassType: "DelayNode",
			Description: "Pause the flow",
			Width:       150, Height: 100,
			Defaults:    map[string]any{"delayMs": 2000},
		},
		TypeAssistant: {
			Type: TypeAssistant, Name: "Assistant", ClassType: "AssistantNode",
			Description: "An assistant step",
			Width:       150, Height: 100,
		},
		TypeCondition: {
			Type: TypeCondition, Name: "Condition", ClassType: "ConditionNode",
			Description: "If / else-if / else routing",
			handles:     conditionHandles,
		},
		TypeQuickReply: {
			Type: TypeQuickReply, Name: "Quick Reply", ClassType: "QuickReplyNode",
			Description: "Offer a set of reply options",
			handles:     optionHandles,
		},
		TypeContainer: {
			Type: TypeContainer, Name: "Container", ClassType: "ContainerNode",
			Description: "A message with reply options",
			handles:     optionHandles,
		},
		TypeBranch: {
			Type: TypeBranch, Name: "Branch", ClassType: "BranchNode",
			Description: "A single branch of a condition",
		},
	}
}

// Lookup returns the capability for t.
func (r Registry) Lookup(t NodeType) (Capability, bool) {
	c, ok := r[t]
	return c, ok
}

// IsConversable reports whether nodes of type t take part in converse edges.
func (r Registry) IsConversable(t NodeType) bool {
	return r[t].Conversable
}

// IsGroup reports whether nodes of type t can contain other nodes.
func (r Registry) IsGroup(t NodeType) bool {
	return r[t].Group
}

// Catalog returns the palette entries in display order.
func (r Registry) Catalog() []Capability {
	out := make([]Capability, 0, len(r))
	for _, t := range catalogOrder {
		if c, ok := r[t]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ResolveSize returns the node's explicit size where set, falling back to the
// type's default size and then to the handle-based minimum.
func (r Registry) ResolveSize(n Node) Size {
	c := r[n.Type]
	size := Size{Width: c.Width, Height: c.Height}
	if size.Width == 0 || size.Height == 0 {
		handles := 0
		if c.handles != nil {
			handles = c.handles(n.Data)
		}
		floor := MinSize(handles)
		if size.Width == 0 {
			size.Width = floor.Width
		}
		if size.Height == 0 {
			size.Height = floor.Height
		}
	}
	if n.Width != nil {
		size.Width = *n.Width
	}
	if n.Height != nil {
		size.Height = *n.Height
	}
	return size
}

const (
	baseMinWidth       = 150
	baseMinHeight      = 80
	headerHeight       = 40
	nodePadding        = 20
	handleSize         = 14
	handleSpacingPct   = 12
	firstHandlePct     = 30
	contentPadding     = 28
	messageAreaHeight  = 55
	optionItemHeight   = 42
	bottomSpace        = 70
	heightSafetyMargin = 40
)

// MinSize returns the minimum size of a node exposing handleCount source
// handles stacked down its right edge.
func MinSize(handleCount int) Size {
	if handleCount <= 0 {
		return Size{Width: baseMinWidth, Height: baseMinHeight}
	}
	n := float64(handleCount)

	contentHeight := contentPadding + messageAreaHeight + n*optionItemHeight + bottomSpace
	required := headerHeight + contentHeight

	last := float64(firstHandlePct) + (n-1)*handleSpacingPct
	fromPct := required
	if last < 98 {
		spaceBelow := float64(bottomSpace + handleSize + 20)
		contentAbove := headerHeight + contentPadding + messageAreaHeight + n*optionItemHeight
		forSpaceBelow := spaceBelow * 100 / (100 - last)
		forContent := contentAbove * 100 / last
		fromPct = math.Max(forSpaceBelow, forContent)
	}

	height := math.Max(baseMinHeight, math.Ceil(math.Max(fromPct, required))+heightSafetyMargin)
	width := math.Max(baseMinWidth, nodePadding*2+handleSize*2)
	return Size{Width: math.Ceil(width), Height: height}
}

func optionHandles(data map[string]any) int {
	opts, _ := data["options"].([]any)
	return len(opts)
}

func conditionHandles(data map[string]any) int {
	count := 1 // if
	if elseIfs, ok := data["elseIfConditions"].([]any); ok {
		count += len(elseIfs)
	}
	if elseNode, _ := data["elseNode"].(bool); elseNode {
		count++
	}
	return count
}
