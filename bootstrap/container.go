package bootstrap

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// DefaultContainer holds named instances, built eagerly or on first use
type DefaultContainer struct {
	factories map[string]ServiceFactory
	instances map[string]interface{}

	// names being built, to report factory cycles instead of deadlocking
	building map[string]bool

	mutex sync.Mutex
}

// NewContainer creates an empty container
func NewContainer() Container {
	return newContainer()
}

func newContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]interface{}),
		building:  make(map[string]bool),
	}
}

// Register registers a factory called on first Resolve
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.has(name) {
		return fmt.Errorf("%s is already registered", name)
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance registers a built instance
func (c *DefaultContainer) RegisterInstance(name string, instance interface{}) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if instance == nil {
		return fmt.Errorf("instance cannot be nil")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.has(name) {
		return fmt.Errorf("%s is already registered", name)
	}
	c.instances[name] = instance
	return nil
}

// Resolve returns the instance registered under name, building it if needed.
// Factories may resolve other names.
func (c *DefaultContainer) Resolve(name string) (interface{}, error) {
	c.mutex.Lock()
	if instance, exists := c.instances[name]; exists {
		c.mutex.Unlock()
		return instance, nil
	}
	factory, exists := c.factories[name]
	if !exists {
		c.mutex.Unlock()
		return nil, fmt.Errorf("%s is not registered", name)
	}
	if c.building[name] {
		c.mutex.Unlock()
		return nil, fmt.Errorf("%s depends on itself", name)
	}
	c.building[name] = true
	c.mutex.Unlock()

	instance, err := factory(c)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.building, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	c.instances[name] = instance
	return instance, nil
}

// ResolveAs resolves name and assigns it to target, which must be a pointer
// to a type the instance is assignable to
func (c *DefaultContainer) ResolveAs(name string, target interface{}) error {
	instance, err := c.Resolve(name)
	if err != nil {
		return err
	}

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}

	instanceValue := reflect.ValueOf(instance)
	targetType := targetValue.Elem().Type()
	if !instanceValue.Type().AssignableTo(targetType) {
		return fmt.Errorf("%s of type %s is not assignable to %s", name, instanceValue.Type(), targetType)
	}

	targetValue.Elem().Set(instanceValue)
	return nil
}

// Has checks if name is registered
func (c *DefaultContainer) Has(name string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.has(name)
}

func (c *DefaultContainer) has(name string) bool {
	_, hasFactory := c.factories[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns all registered names in sorted order
func (c *DefaultContainer) Names() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	names := make([]string, 0, len(c.factories)+len(c.instances))
	for name := range c.instances {
		names = append(names, name)
	}
	for name := range c.factories {
		if _, built := c.instances[name]; !built {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Replace swaps a built instance, used when the configuration is reloaded
func (c *DefaultContainer) Replace(name string, instance interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.instances[name] = instance
}
