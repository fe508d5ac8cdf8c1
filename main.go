/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
/*
	arraytree distributed array computation engine

	every locality runs the same program on its own tiles
*/
package main

import "os"
import "fmt"
import "flag"
import "time"
import "context"
import "syscall"
import "os/signal"
import "path/filepath"
import "runtime/pprof"
import "github.com/dc0d/onexit"
import "github.com/fsnotify/fsnotify"
import "github.com/launix-de/arraytree/dist"
import "github.com/launix-de/arraytree/tree"
import "github.com/launix-de/arraytree/storage"
import "github.com/launix-de/arraytree/transport"

// workaround for flags package to allow multiple values
type arrayFlags []string

func (i *arrayFlags) String() string {
	return "dummy"
}

func (i *arrayFlags) Set(value string) error {
	*i = append(*i, value)
	return nil
}

func setupIO(wd string) {
	// file and environment access is only available in the command line tool
	tree.DeclareTitle("IO")
	tree.Declare(&tree.Declaration{
		Name: "load", Desc: "returns the content of a file as string",
		MinParameter: 1, MaxParameter: 1,
		Params: []tree.DeclarationParameter{
			{Name: "filename", Type: "string", Desc: "filename relative to the working directory"},
		},
		Returns: "string",
		Fn: func(a ...tree.Value) tree.Value {
			bytes, err := os.ReadFile(filepath.Join(wd, tree.ToString(a[0])))
			if err != nil {
				panic(err)
			}
			return tree.NewString(string(bytes))
		},
	})
	tree.Declare(&tree.Declaration{
		Name: "env", Desc: "returns the content of an environment variable",
		MinParameter: 1, MaxParameter: 2,
		Params: []tree.DeclarationParameter{
			{Name: "var", Type: "string", Desc: "envvar"},
			{Name: "default", Type: "string", Desc: "default if the env is not found"},
		},
		Returns: "string",
		Fn: func(a ...tree.Value) tree.Value {
			if val, ok := os.LookupEnv(tree.ToString(a[0])); ok {
				return tree.NewString(val)
			}
			if len(a) > 1 {
				return a[1]
			}
			return tree.NewString("")
		},
	})
}

// startLocalities returns the locality this process drives and whether it drives the cluster
func startLocalities(n int, clusterFile string, here uint, seed uint64) (*dist.Locality, bool) {
	var driver *dist.Locality
	var local []*dist.Locality
	if clusterFile == "" {
		c := transport.NewCluster(n)
		for i := 0; i < n; i++ {
			l := dist.NewLocality(c.Node(uint32(i)))
			c.Bind(uint32(i), l)
			local = append(local, l)
		}
		driver = local[0]
	} else {
		cfg, err := transport.LoadClusterConfig(clusterFile)
		if err != nil {
			panic(err)
		}
		if int(here) >= len(cfg.Localities) {
			panic(fmt.Sprintf("-here %d: %s lists only %d localities", here, clusterFile, len(cfg.Localities)))
		}
		node := transport.NewNode(cfg, uint32(here), nil)
		driver = dist.NewLocality(node)
		node.SetHandler(driver)
		if err := node.Listen(); err != nil {
			panic(err)
		}
		go func() {
			if err := node.Serve(); err != nil {
				tree.PrintError("locality server: " + err.Error())
			}
		}()
		onexit.Register(func() { node.Close() })
		fmt.Printf("locality %d of %d listening on %s\n", here, len(cfg.Localities), node.Addr())
		local = append(local, driver)
	}
	if seed != 0 {
		for _, l := range local {
			l.Seed(seed)
		}
	}
	return driver, driver.ID() == 0
}

// run executes source on every locality and prints the result of the driver
func run(driver *dist.Locality, name, source string, show bool) {
	results, err := driver.Broadcast(context.Background(), name, source)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if show {
		fmt.Println(results[driver.ID()])
	}
}

func runFile(driver *dist.Locality, filename string) {
	bytes, err := os.ReadFile(filename)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	run(driver, filename, string(bytes), false)
}

// watchScript runs filename again whenever it changes on disk
func watchScript(driver *dist.Locality, filename string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		panic(err)
	}
	go func() {
		for {
			select {
			case <-watcher.Events:
				// flush all other events
				for {
					time.Sleep(10 * time.Millisecond) // delay a bit, so we don't read empty files
					select {
					case <-watcher.Events:
						// ignore
					default:
						goto to_rerun
					}
				}
			to_rerun:
				fmt.Println("Reloading " + filename + " ...")
				runFile(driver, filename)
				watcher.Add(filename) // text editors rename, so we have to rewatch
			case err := <-watcher.Errors:
				tree.PrintError("watch " + filename + ": " + err.Error())
			}
		}
	}()
	if err := watcher.Add(filename); err != nil {
		panic(err)
	}
}

func main() {
	fmt.Print(`arraytree Copyright (C) 2026   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;

`)

	// parse command line options
	var commands arrayFlags
	flag.Var(&commands, "c", "Execute a command on every locality")

	localities := flag.Int("localities", 1, "Number of in-process localities")
	clusterFile := flag.String("cluster", "", "YAML cluster topology; runs one websocket locality per process")
	here := flag.Uint("here", 0, "Id of this process in the -cluster topology")
	flag.StringVar(&storage.Settings.DataDir, "data", storage.Settings.DataDir, "Data folder for tile stores")
	flag.IntVar(&storage.Settings.Workers, "workers", storage.Settings.Workers, "Concurrent kernel evaluations")
	flag.BoolVar(&storage.Settings.Trace, "trace", false, "Write a chrome trace of every evaluation")
	flag.BoolVar(&storage.Settings.TracePrint, "traceprint", false, "Print trace events to stdout")
	flag.BoolVar(&storage.Settings.Backtrace, "backtrace", false, "Append go stack traces to errors")
	docs := flag.String("docs", "", "Write markdown documentation of all primitives into this folder and exit")
	watch := flag.Bool("watch", false, "Run the scripts again when they change")
	seed := flag.Uint64("seed", 0, "Seed for random_d (0: default seed)")
	profile := flag.String("profile", "", "Write a CPU profile to this file")

	wd, _ := os.Getwd()
	flag.StringVar(&wd, "wd", wd, "Working Directory for (load) (Default: .)")

	flag.Parse()
	scripts := flag.Args()

	setupIO(wd)
	storage.Init()
	if *docs != "" {
		if err := tree.WriteDocumentation(*docs); err != nil {
			panic(err)
		}
		fmt.Println("documentation written to " + *docs)
		return
	}
	storage.InitSettings()

	if *localities < 1 {
		panic("-localities must be at least 1")
	}
	driver, driving := startLocalities(*localities, *clusterFile, *here, *seed)

	// install exit handler
	cancelChan := make(chan os.Signal, 1)
	signal.Notify(cancelChan, syscall.SIGTERM, syscall.SIGINT)
	go (func() {
		<-cancelChan
		exitroutine()
		os.Exit(1)
	})()

	if !driving {
		// peers only answer requests of locality 0
		fmt.Println("waiting for locality 0 ...")
		select {}
	}

	// init profiling
	if *profile != "" {
		f, err := os.Create(*profile)
		if err != nil {
			panic(err)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	for _, script := range scripts {
		fmt.Println("Loading " + script + " ...")
		runFile(driver, script)
		if *watch {
			watchScript(driver, script)
		}
	}
	for _, command := range commands {
		fmt.Println("Executing " + command + " ...")
		run(driver, "command line", command, true)
	}
	if len(commands) > 0 && !*watch {
		exitroutine()
		return
	}

	fmt.Print(`
    Type help() to show help

`)
	// REPL shell
	tree.Repl(".arraytree-history", func(code string) (string, error) {
		results, err := driver.Broadcast(context.Background(), "user prompt", code)
		if err != nil {
			return "", err
		}
		return results[driver.ID()], nil
	})

	// normal shutdown
	exitroutine()
}

func exitroutine() {
	fmt.Println("Exit procedure...")
	tree.SetTrace(false)
	fmt.Println("Exit procedure finished")
}
