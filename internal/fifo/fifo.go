package fifo

// Circular Fifo object used for frame queues.
// It is not safe for concurrent use, callers hold their own lock.
type Fifo[T any] struct {
	buffer   []T
	writePos int
	readPos  int
}

// Create a fifo that can hold size elements
func NewFifo[T any](size int) *Fifo[T] {
	if size < 1 {
		size = 1
	}
	return &Fifo[T]{buffer: make([]T, size+1)}
}

func (f *Fifo[T]) Reset() {
	var zero T
	for i := range f.buffer {
		f.buffer[i] = zero
	}
	f.readPos = 0
	f.writePos = 0
}

// Capacity of the fifo
func (f *Fifo[T]) Size() int {
	return len(f.buffer) - 1
}

func (f *Fifo[T]) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo[T]) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write one element, returns false if fifo is full
func (f *Fifo[T]) Write(element T) bool {
	writePosNext := f.writePos + 1
	if writePosNext == len(f.buffer) {
		writePosNext = 0
	}
	if writePosNext == f.readPos {
		return false
	}
	f.buffer[f.writePos] = element
	f.writePos = writePosNext
	return true
}

// Read one element, returns false if fifo is empty
func (f *Fifo[T]) Read() (T, bool) {
	var zero T
	if f.readPos == f.writePos {
		return zero, false
	}
	element := f.buffer[f.readPos]
	f.buffer[f.readPos] = zero
	f.readPos++
	if f.readPos == len(f.buffer) {
		f.readPos = 0
	}
	return element, true
}

// Read up to len(buffer) elements and return number of elements read
func (f *Fifo[T]) ReadInto(buffer []T) int {
	readCounter := 0
	for index := range buffer {
		element, ok := f.Read()
		if !ok {
			break
		}
		buffer[index] = element
		readCounter++
	}
	return readCounter
}

// Peek returns the next element without removing it
func (f *Fifo[T]) Peek() (T, bool) {
	var zero T
	if f.readPos == f.writePos {
		return zero, false
	}
	return f.buffer[f.readPos], true
}
