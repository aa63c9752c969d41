package behavior

import "herald/pkg/models"

// OptimalOrder shuffles envs and then interleaves recipients so the same
// recipient is never sent to twice in a row when another choice exists.
func (e *Engine) OptimalOrder(envs []*models.Envelope) []*models.Envelope {
	if len(envs) < 2 {
		return append([]*models.Envelope(nil), envs...)
	}

	shuffled := append([]*models.Envelope(nil), envs...)
	e.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	var recipients []string
	queues := make(map[string][]*models.Envelope)
	for _, env := range shuffled {
		if _, ok := queues[env.Recipient]; !ok {
			recipients = append(recipients, env.Recipient)
		}
		queues[env.Recipient] = append(queues[env.Recipient], env)
	}

	ordered := make([]*models.Envelope, 0, len(envs))
	last := -1
	for len(ordered) < len(envs) {
		pick := -1
		for i, r := range recipients {
			if len(queues[r]) == 0 || i == last {
				continue
			}
			if pick < 0 || len(queues[r]) > len(queues[recipients[pick]]) {
				pick = i
			}
		}
		if pick < 0 {
			pick = last
		}

		r := recipients[pick]
		ordered = append(ordered, queues[r][0])
		queues[r] = queues[r][1:]
		last = pick
	}
	return ordered
}
