/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tomoncle/memberdb"
	"github.com/tomoncle/memberdb/database"
	"github.com/tomoncle/memberdb/member"
	"github.com/tomoncle/memberdb/repository"
	"github.com/tomoncle/memberdb/types"
)

type rootFlags struct {
	configPath string
	envFile    string
	dbName     string
	policy     string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "hellomember",
		Short:         "Create, read, update and delete members through a unit of work",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	cmd.PersistentFlags().StringVar(&flags.dbName, "dbname", "", "override the database name (sqlite file)")
	cmd.PersistentFlags().StringVar(&flags.policy, "schema-policy", "", "override the schema policy: none, create, create-drop, validate")

	cmd.AddCommand(newInitCommand(flags))
	cmd.AddCommand(newDemoCommand(flags))
	cmd.AddCommand(newCreateCommand(flags))
	cmd.AddCommand(newGetCommand(flags))
	cmd.AddCommand(newRenameCommand(flags))
	cmd.AddCommand(newDeleteCommand(flags))
	cmd.AddCommand(newListCommand(flags))
	return cmd
}

// loadConfig falls back to a local sqlite file when no configuration file
// is given.
func (f *rootFlags) loadConfig(defaultPolicy types.SchemaPolicy) (*database.Config, error) {
	cfg, err := database.LoadConfig(f.configPath, f.envFile)
	if err != nil {
		return nil, err
	}
	if cfg.Connection.Type == "" {
		cfg.Connection.Type = "sqlite"
		cfg.Connection.DBName = "hellomember.db"
	}
	if f.dbName != "" {
		cfg.Connection.DBName = f.dbName
	}
	if cfg.SchemaPolicy() == types.SchemaPolicyNone {
		cfg.Schema.Policy = defaultPolicy.Name()
	}
	if f.policy != "" {
		cfg.Schema.Policy = f.policy
	}
	return cfg, nil
}

func (f *rootFlags) withService(ctx context.Context, defaultPolicy types.SchemaPolicy, fn func(*memberdb.Service) error) error {
	cfg, err := f.loadConfig(defaultPolicy)
	if err != nil {
		return err
	}
	svc, err := memberdb.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = svc.Close()
	}()
	return fn(svc)
}

func newInitCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Drop and recreate the member table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.withService(cmd.Context(), types.SchemaPolicyCreate, func(*memberdb.Service) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "table %s created\n", member.TableName)
				return err
			})
		},
	}
}

// newDemoCommand stores one member, renames it in a second transaction and
// reads it back from a third.
func newDemoCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the create, rename and fetch walkthrough on a fresh table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			return flags.withService(ctx, types.SchemaPolicyCreate, func(svc *memberdb.Service) error {
				err := svc.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, members repository.RecordStore[member.Member]) error {
					return members.Create(ctx, member.New(1, "최용석"))
				})
				if err != nil {
					return err
				}
				err = svc.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, members repository.RecordStore[member.Member]) error {
					m, err := members.Find(ctx, 1)
					if err != nil {
						return err
					}
					printMember(out, "created", m)
					m.Name = "석용최"
					return members.Update(ctx, m)
				})
				if err != nil {
					return err
				}
				return svc.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, members repository.RecordStore[member.Member]) error {
					m, err := members.Find(ctx, 1)
					if err != nil {
						return err
					}
					printMember(out, "renamed", m)
					return nil
				})
			})
		},
	}
}

func newCreateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create <no> <name>",
		Short: "Create a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := parseMemberNo(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return flags.withService(ctx, types.SchemaPolicyNone, func(svc *memberdb.Service) error {
				m := member.New(no, args[1])
				err := svc.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, members repository.RecordStore[member.Member]) error {
					return members.Create(ctx, m)
				})
				if err != nil {
					return err
				}
				printMember(cmd.OutOrStdout(), "created", m)
				return nil
			})
		},
	}
}

func newGetCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <no>",
		Short: "Print a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := parseMemberNo(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return flags.withService(ctx, types.SchemaPolicyNone, func(svc *memberdb.Service) error {
				uow := svc.NewUnitOfWork()
				defer func() {
					_ = uow.Close()
				}()
				members, err := svc.Members(uow)
				if err != nil {
					return err
				}
				m, err := members.Find(ctx, no)
				if err != nil {
					return err
				}
				printMember(cmd.OutOrStdout(), "found", m)
				return nil
			})
		},
	}
}

func newRenameCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <no> <name>",
		Short: "Change the name of a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := parseMemberNo(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return flags.withService(ctx, types.SchemaPolicyNone, func(svc *memberdb.Service) error {
				var renamed *member.Member
				err := svc.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, members repository.RecordStore[member.Member]) error {
					m, err := members.Find(ctx, no)
					if err != nil {
						return err
					}
					m.Name = args[1]
					renamed = m
					return members.Update(ctx, m)
				})
				if err != nil {
					return err
				}
				printMember(cmd.OutOrStdout(), "renamed", renamed)
				return nil
			})
		},
	}
}

func newDeleteCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <no>",
		Short: "Delete a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			no, err := parseMemberNo(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return flags.withService(ctx, types.SchemaPolicyNone, func(svc *memberdb.Service) error {
				err := svc.InUnitOfWork(ctx, func(_ *repository.UnitOfWork, members repository.RecordStore[member.Member]) error {
					m, err := members.Find(ctx, no)
					if err != nil {
						return err
					}
					return members.Delete(ctx, m)
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", no)
				return err
			})
		},
	}
}

func newListCommand(flags *rootFlags) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return flags.withService(ctx, types.SchemaPolicyNone, func(svc *memberdb.Service) error {
				uow := svc.NewUnitOfWork()
				defer func() {
					_ = uow.Close()
				}()
				members, err := svc.Members(uow)
				if err != nil {
					return err
				}
				items, err := members.ListPaged(ctx, offset, limit)
				if err != nil {
					return err
				}
				for _, m := range items {
					printMember(cmd.OutOrStdout(), "member", m)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of rows to skip")
	cmd.Flags().IntVar(&limit, "limit", types.DefaultPageSize, "maximum number of rows")
	return cmd
}

func parseMemberNo(s string) (int64, error) {
	no, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid member number %q: %w", s, err)
	}
	return no, nil
}

func printMember(w io.Writer, label string, m *member.Member) {
	_, _ = fmt.Fprintf(w, "%s: no=%d name=%s\n", label, m.No, m.Name)
}
