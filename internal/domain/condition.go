package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// ElementType — дискриминатор варианта в дереве условий.
type ElementType string

const (
	ElementTypeLeaf ElementType = "leaf"
	ElementTypeNode ElementType = "node"
)

// Attribute — атрибут трафика, по которому построено условие листа.
type Attribute string

const (
	AttributeSourceIPAddress      Attribute = "source_ip_address"
	AttributeDestinationIPAddress Attribute = "destination_ip_address"
	AttributeDestinationPort      Attribute = "destination_port"
	AttributeDestinationDomain    Attribute = "destination_domain"
	AttributeDestinationProtocol  Attribute = "destination_protocol"
)

// Operator — оператор сравнения в листе условия.
type Operator string

const (
	OperatorEq          Operator = "eq"
	OperatorNe          Operator = "ne"
	OperatorLt          Operator = "lt"
	OperatorLte         Operator = "lte"
	OperatorGt          Operator = "gt"
	OperatorGte         Operator = "gte"
	OperatorIn          Operator = "in"
	OperatorNotIn       Operator = "not_in"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorStartsWith  Operator = "starts_with"
	OperatorEndsWith    Operator = "ends_with"
	OperatorRegex       Operator = "regex"
	OperatorNotRegex    Operator = "not_regex"
)

// BooleanOperator — оператор внутреннего узла дерева (and/or/not).
type BooleanOperator string

const (
	BooleanOperatorAnd BooleanOperator = "and"
	BooleanOperatorOr  BooleanOperator = "or"
	BooleanOperatorNot BooleanOperator = "not"
)

// MaxConditionDepth ограничивает глубину вложенности дерева условий.
// В исходной версии лимита не было, и патологический вход мог обрушить
// рекурсивную валидацию. Превышение лимита — ошибка валидации.
const MaxConditionDepth = 32

var validAttributes = map[Attribute]struct{}{
	AttributeSourceIPAddress:      {},
	AttributeDestinationIPAddress: {},
	AttributeDestinationPort:      {},
	AttributeDestinationDomain:    {},
	AttributeDestinationProtocol:  {},
}

var validOperators = map[Operator]struct{}{
	OperatorEq: {}, OperatorNe: {}, OperatorLt: {}, OperatorLte: {},
	OperatorGt: {}, OperatorGte: {}, OperatorIn: {}, OperatorNotIn: {},
	OperatorContains: {}, OperatorNotContains: {}, OperatorStartsWith: {},
	OperatorEndsWith: {}, OperatorRegex: {}, OperatorNotRegex: {},
}

// Операторы, допускающие (и требующие) более одного значения.
var multiValueOperators = map[Operator]struct{}{
	OperatorIn:    {},
	OperatorNotIn: {},
}

// ConditionLeaf — лист дерева: типизированный атрибут, оператор и значения.
type ConditionLeaf struct {
	Attribute Attribute `json:"attribute"`
	Operator  Operator  `json:"operator"`
	Values    []string  `json:"values"`
}

// ConditionNode — внутренний узел дерева: булев оператор над операндами.
type ConditionNode struct {
	Operator BooleanOperator    `json:"operator"`
	Operands []ConditionElement `json:"operands"`
}

// ConditionElement — обертка с тегом варианта (leaf | node).
// Единственная рекурсивная структура системы: узлы владеют своими
// поддеревьями целиком, без разделяемых ссылок.
type ConditionElement struct {
	ElementType ElementType
	Leaf        *ConditionLeaf
	Node        *ConditionNode
}

// conditionElementWire — транспортное представление {element_type, element}.
type conditionElementWire struct {
	ElementType ElementType     `json:"element_type"`
	Element     json.RawMessage `json:"element"`
}

// MarshalJSON сериализует выбранный вариант под ключом element.
func (e ConditionElement) MarshalJSON() ([]byte, error) {
	var element any
	switch e.ElementType {
	case ElementTypeLeaf:
		element = e.Leaf
	case ElementTypeNode:
		element = e.Node
	default:
		return nil, fmt.Errorf("condition: unknown element_type %q", e.ElementType)
	}

	raw, err := json.Marshal(element)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conditionElementWire{ElementType: e.ElementType, Element: raw})
}

// UnmarshalJSON разбирает вариант по дискриминатору element_type.
// Структурная корректность проверяется отдельно в Validate — здесь
// только форма JSON.
func (e *ConditionElement) UnmarshalJSON(data []byte) error {
	var wire conditionElementWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.ElementType = wire.ElementType
	e.Leaf = nil
	e.Node = nil

	switch wire.ElementType {
	case ElementTypeLeaf:
		leaf := &ConditionLeaf{}
		if err := json.Unmarshal(wire.Element, leaf); err != nil {
			return err
		}
		e.Leaf = leaf
	case ElementTypeNode:
		node := &ConditionNode{}
		if err := json.Unmarshal(wire.Element, node); err != nil {
			return err
		}
		e.Node = node
	default:
		return fmt.Errorf("condition: unknown element_type %q", wire.ElementType)
	}
	return nil
}

// Validate рекурсивно проверяет структуру дерева условий.
// Построение и валидация идут вместе: невалидное дерево отклоняет
// содержащее его правило, «частично построенного» состояния не бывает.
func (e *ConditionElement) Validate() error {
	return e.validate(0)
}

func (e *ConditionElement) validate(depth int) error {
	if depth > MaxConditionDepth {
		return NewValidationError("condition", fmt.Sprintf("tree depth exceeds %d", MaxConditionDepth))
	}

	switch e.ElementType {
	case ElementTypeLeaf:
		if e.Leaf == nil {
			return NewValidationError("condition.element", "leaf element is missing")
		}
		return e.Leaf.validate()
	case ElementTypeNode:
		if e.Node == nil {
			return NewValidationError("condition.element", "node element is missing")
		}
		return e.Node.validate(depth)
	default:
		return NewValidationError("condition.element_type", fmt.Sprintf("must be one of [%s %s]", ElementTypeLeaf, ElementTypeNode))
	}
}

func (l *ConditionLeaf) validate() error {
	if _, ok := validAttributes[l.Attribute]; !ok {
		return NewValidationError("condition.attribute", fmt.Sprintf("unknown attribute %q", l.Attribute))
	}
	if _, ok := validOperators[l.Operator]; !ok {
		return NewValidationError("condition.operator", fmt.Sprintf("unknown operator %q", l.Operator))
	}

	// Арность значений зависит от класса оператора: in/not_in принимают
	// множество, остальные — ровно одно значение.
	if _, multi := multiValueOperators[l.Operator]; multi {
		if len(l.Values) < 1 {
			return NewValidationError("condition.values", fmt.Sprintf("operator %q requires at least one value", l.Operator))
		}
	} else if len(l.Values) != 1 {
		return NewValidationError("condition.values", fmt.Sprintf("operator %q requires exactly one value", l.Operator))
	}

	// Для regex-операторов паттерн должен компилироваться уже на записи,
	// иначе ошибка всплывет только у агента при применении правила.
	if l.Operator == OperatorRegex || l.Operator == OperatorNotRegex {
		if _, err := regexp.Compile(l.Values[0]); err != nil {
			return NewValidationError("condition.values", fmt.Sprintf("invalid regular expression: %v", err))
		}
	}
	return nil
}

func (n *ConditionNode) validate(depth int) error {
	switch n.Operator {
	case BooleanOperatorAnd, BooleanOperatorOr:
		if len(n.Operands) <= 1 {
			return NewValidationError("condition.operands", fmt.Sprintf("operator %q requires more than one operand", n.Operator))
		}
	case BooleanOperatorNot:
		if len(n.Operands) != 1 {
			return NewValidationError("condition.operands", fmt.Sprintf("operator %q requires exactly one operand", n.Operator))
		}
	default:
		return NewValidationError("condition.operator", fmt.Sprintf("unknown boolean operator %q", n.Operator))
	}

	for i := range n.Operands {
		if err := n.Operands[i].validate(depth + 1); err != nil {
			return err
		}
	}
	return nil
}
