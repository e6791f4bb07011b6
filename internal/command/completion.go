// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/staranto/studiocache/internal/meta"
)

const bashCompletionScript = `# bash completion for studiocache
# Fallback if bash-completion is not installed
if ! declare -F _get_comp_words_by_ref >/dev/null 2>&1; then
  _get_comp_words_by_ref() {
    cur=${COMP_WORDS[COMP_CWORD]}
    prev=${COMP_WORDS[COMP_CWORD-1]}
  }
fi

_studiocache()
{
    local cur prev cmd
    COMPREPLY=()
    _get_comp_words_by_ref -n : cur prev

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "cleanup entries fetch gallery partitions ls serve warm completion --help --version" -- "$cur") )
        return 0
    fi

    cmd=${COMP_WORDS[1]}
    local common="--attrs -a --color -c --filter -f --output -o --sort -s --titles -t --tldr --schema"
    local origin="--origin --timeout"
    local store="--store --cache-dir --bucket --prefix --region --profile --endpoint"

    case "$cmd" in
        cleanup)
            local opts="$common $origin $store --dry-run"
            ;;
        entries)
            local opts="$common $store"
            ;;
        fetch)
            local opts="$common $origin $store --method"
            ;;
        gallery)
            local opts="$common $origin --gallery -g"
            ;;
        partitions|ls)
            local opts="$common $store"
            ;;
        serve)
            local opts="$origin $store --listen -l --tldr"
            ;;
        warm)
            local opts="$common $origin $store --gallery -g --parallel -p"
            ;;
        completion)
            local opts="bash zsh"
            COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
            return 0
            ;;
        *)
            local opts="$common"
            ;;
    esac

    case "$prev" in
        --output|-o)
            COMPREPLY=( $(compgen -W "text json raw yaml" -- "$cur") )
            return 0
            ;;
        --store)
            COMPREPLY=( $(compgen -W "memory file s3" -- "$cur") )
            return 0
            ;;
        --cache-dir)
            COMPREPLY=( $(compgen -o dirnames -- "$cur") )
            return 0
            ;;
        --gallery|-g)
            COMPREPLY=( $(compgen -f -- "$cur") )
            return 0
            ;;
    esac

    COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
    return 0
}

complete -F _studiocache studiocache
`

const zshCompletionScript = `#compdef studiocache

_studiocache() {
  local -a cmds
  cmds=(
    'cleanup:delete partitions that are not current'
    'entries:list the entries of a partition'
    'fetch:fetch paths through the interceptor'
    'gallery:list gallery items'
    'partitions:list cache partitions'
    'ls:list cache partitions'
    'serve:run the caching HTTP front'
    'warm:fetch every gallery image through the interceptor'
    'completion:generate shell completion script'
  )

  local -a common
  common=(
  '(-a --attrs)'{-a,--attrs}'[attributes to include]:attrs'
  '(-c --color)'{-c,--color}'[enable colored text]'
  '(-f --filter)'{-f,--filter}'[filters to apply]:filters'
  '(-o --output)'{-o,--output}'[output format]:format:(text json raw yaml)'
  '(-s --sort)'{-s,--sort}'[sort attributes]:attrs'
  '(-t --titles)'{-t,--titles}'[show titles]'
  '--schema[dump schema]'
  '--tldr[show tldr page]'
  )

  local -a origin
  origin=(
  '--origin[site origin]:url'
  '--timeout[network timeout]:duration'
  )

  local -a store
  store=(
  '--store[partition store]:store:(memory file s3)'
  '--cache-dir[file store directory]:directory:_directories'
  '--bucket[S3 bucket]:bucket'
  '--prefix[S3 key prefix]:prefix'
  '--region[AWS region]:region'
  '--profile[AWS profile]:profile'
  '--endpoint[S3 endpoint]:url'
  )

  if (( CURRENT == 2 )); then
    _describe -t commands 'studiocache commands' cmds
    return
  fi

  local curcontext="$curcontext" state line
  case $words[2] in
    cleanup)
      _arguments -C $common $origin $store '--dry-run[list only]'
      ;;
    entries)
      _arguments -C $common $store '1:partition'
      ;;
    fetch)
      _arguments -C $common $origin $store '--method[request method]:method' '*:path'
      ;;
    gallery)
      _arguments -C $common $origin '(-g --gallery)'{-g,--gallery}'[gallery data file]:file:_files'
      ;;
    partitions|ls)
      _arguments -C $common $store
      ;;
    serve)
      _arguments -C $origin $store '(-l --listen)'{-l,--listen}'[listen address]:address' '--tldr[show tldr page]'
      ;;
    warm)
      _arguments -C $common $origin $store \
        '(-g --gallery)'{-g,--gallery}'[gallery data file]:file:_files' \
        '(-p --parallel)'{-p,--parallel}'[concurrent fetches]:count'
      ;;
    completion)
      _arguments '1: :((bash zsh))'
      ;;
    *)
      _arguments -C $common
      ;;
  esac
}

# If this file is sourced directly (not autoloaded via fpath), ensure compsys is initialized and register the completion
if ! typeset -f compdef >/dev/null 2>&1; then
  autoload -Uz compinit && compinit -i
fi
compdef _studiocache studiocache
`

// CompletionCommandAction prints the completion script for the shell named by
// the first argument, or for $SHELL when there is none.
func CompletionCommandAction(ctx context.Context, cmd *cli.Command) error {
	w := stdout(cmd)

	shell := ""
	if args := cmd.Args().Slice(); len(args) > 0 {
		shell = args[0]
	}
	if shell == "" {
		sh := os.Getenv("SHELL")
		switch {
		case strings.HasSuffix(sh, "zsh"):
			shell = "zsh"
		case strings.HasSuffix(sh, "bash"):
			shell = "bash"
		}
	}

	switch shell {
	case "bash":
		fmt.Fprint(w, bashCompletionScript)
	case "zsh":
		fmt.Fprint(w, zshCompletionScript)
	case "":
		fmt.Fprintln(os.Stderr, "usage: studiocache completion [bash|zsh]")
	default:
		return fmt.Errorf("unsupported shell %q", shell)
	}
	return nil
}

func CompletionCommandBuilder(meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "completion",
		Usage:     "generate shell completion script",
		UsageText: "studiocache completion [bash|zsh]",
		Metadata: map[string]any{
			"meta": meta,
		},
		Action: CompletionCommandAction,
	}
}
