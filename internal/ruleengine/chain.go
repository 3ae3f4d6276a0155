package ruleengine

// evaluateChain recursively evaluates a boolean chain expression. String
// items resolve against the registry and use *basic* evaluation only
// (enabled plus primitive conditions), which is what prevents chains that
// reference rules that reference chains from recursing forever. Unknown
// rule ids and unknown operators evaluate to false.
func (e *Evaluator) evaluateChain(chain *Chain, rc *RequestContext) bool {
	if chain == nil || len(chain.Rules) == 0 {
		return false
	}

	switch chain.Operator {
	case ChainAnd:
		for i := range chain.Rules {
			if !e.evaluateChainItem(&chain.Rules[i], rc) {
				return false
			}
		}
		return true
	case ChainOr:
		for i := range chain.Rules {
			if e.evaluateChainItem(&chain.Rules[i], rc) {
				return true
			}
		}
		return false
	case ChainNot:
		// NOT negates the first item only; any trailing items are ignored.
		return !e.evaluateChainItem(&chain.Rules[0], rc)
	case ChainXor:
		trueCount := 0
		for i := range chain.Rules {
			if e.evaluateChainItem(&chain.Rules[i], rc) {
				trueCount++
			}
		}
		return trueCount == 1
	default:
		return false
	}
}

func (e *Evaluator) evaluateChainItem(item *ChainItem, rc *RequestContext) bool {
	if item.Nested != nil {
		return e.evaluateChain(item.Nested, rc)
	}
	rule, ok := e.registry[item.RuleID]
	if !ok {
		return false
	}
	return e.basicEvaluate(rule, rc)
}
