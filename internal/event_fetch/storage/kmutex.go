package storage

import "sync"

// kmutex 按 key（指纹）粒度的互斥锁。
// 不用全局锁：不同指纹的写入要能并行，同一指纹同一时刻只能有一个写者。
// 空闲的锁条目会被回收，长跑进程不会积累无限的 map。
type kmutex struct {
	mu    sync.Mutex
	locks map[string]*kentry
}

type kentry struct {
	mu   sync.Mutex
	refs int
}

func newKmutex() *kmutex {
	return &kmutex{locks: make(map[string]*kentry)}
}

func (k *kmutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &kentry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
}

func (k *kmutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("kmutex: unlock of unheld key " + key)
	}
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	e.mu.Unlock()
}
