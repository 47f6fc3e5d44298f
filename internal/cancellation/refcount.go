package cancellation

import "sync"

// RefCount aborts a shared controller when the last attached consumer detaches
type RefCount struct {
	controller *Controller

	mutex sync.Mutex
	count int
}

func NewRefCount(controller *Controller) *RefCount {
	return &RefCount{controller: controller}
}

func (r *RefCount) Attach() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.count++
}

// Detach decrements the count and aborts the controller when it reaches zero.
// Returns true if this call released the controller.
func (r *RefCount) Detach() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.count <= 0 {
		return false
	}

	r.count--
	if r.count > 0 {
		return false
	}

	r.controller.Abort()
	return true
}

func (r *RefCount) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.count
}
