package pure

import (
	"fmt"

	"github.com/cuemby/portalforge/pkg/fn"
)

// SwarmList enqueues an execution request for each kwargs set in kwList,
// shuffling enqueue order with p's portal entropy so no caller can depend
// on request-store insertion order, and returns each call's ResultAddr in
// the same order as kwList (not the shuffled enqueue order).
func (p *PureFn) SwarmList(kwList []fn.KwArgs) ([]ResultAddr, error) {
	addrs := make([]ResultAddr, len(kwList))
	callSigs := make([]fn.CallSignature, len(kwList))
	for i, kw := range kwList {
		_, callSig, resultAddr, err := p.CallSignature(kw)
		if err != nil {
			return nil, fmt.Errorf("pure: swarm_list: failed to derive result address for item %d: %w", i, err)
		}
		addrs[i] = resultAddr
		callSigs[i] = callSig
	}

	order := p.Portal.Entropy().Perm(len(addrs))
	for _, i := range order {
		if err := p.requestExecution(addrs[i], callSigs[i]); err != nil {
			return nil, fmt.Errorf("pure: swarm_list: failed to enqueue item %d: %w", i, err)
		}
	}

	return addrs, nil
}

// RunList synchronously executes every kwargs set in kwList, in an order
// shuffled by p's portal entropy (separately from SwarmList's own
// shuffle), and returns each call's ResultAddr in the original kwList
// order.
func (p *PureFn) RunList(kwList []fn.KwArgs) ([]ResultAddr, error) {
	addrs := make([]ResultAddr, len(kwList))

	order := p.Portal.Entropy().Perm(len(kwList))
	for _, i := range order {
		_, _, resultAddr, err := p.CallSignature(kwList[i])
		if err != nil {
			return nil, fmt.Errorf("pure: run_list: failed to derive result address for item %d: %w", i, err)
		}
		addrs[i] = resultAddr

		if _, err := p.Execute(kwList[i]); err != nil {
			return nil, fmt.Errorf("pure: run_list: item %d failed: %w", i, err)
		}
	}

	return addrs, nil
}
