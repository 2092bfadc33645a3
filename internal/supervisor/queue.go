package supervisor

// jobQueue is the FIFO of pending jobs. Only the head may be dispatched.
// Not safe for concurrent use; the supervisor mutex guards it.
type jobQueue struct {
	jobs []*Job
}

func (q *jobQueue) push(j *Job) {
	q.jobs = append(q.jobs, j)
}

func (q *jobQueue) head() *Job {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

func (q *jobQueue) pop() *Job {
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return j
}

// drain empties the queue and returns its jobs in FIFO order.
func (q *jobQueue) drain() []*Job {
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

func (q *jobQueue) len() int {
	return len(q.jobs)
}

// dispatched counts jobs in JobDispatched; never more than one.
func (q *jobQueue) dispatched() int {
	n := 0
	for _, j := range q.jobs {
		if j.State == JobDispatched {
			n++
		}
	}
	return n
}
