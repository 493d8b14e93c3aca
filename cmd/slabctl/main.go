// Command slabctl inspects slab layouts and drives workloads through the slab
// allocator.
package main

func main() {
	execute()
}
