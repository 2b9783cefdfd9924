package kernel

// List is the intrusive doubly-linked list used for runqueues, scheduler
// event queues and invocation stacks. A detached node points to itself; that
// self-link doubles as the "not enqueued" marker. Owner identifies the
// structure the node is embedded in.
type List struct {
	Prev, Next *List
	Owner      any
}

func (l *List) init(owner any) {
	l.Prev = l
	l.Next = l
	l.Owner = owner
}

func (l *List) empty() bool { return l.Next == l }

func listDel(prev, next *List) {
	next.Prev = prev
	prev.Next = next
}

func listIns(n, prev, next *List) {
	next.Prev = n
	n.Next = next
	n.Prev = prev
	prev.Next = n
}
