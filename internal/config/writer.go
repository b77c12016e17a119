package config

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RuleItems groups the items of one rule for Write.
type RuleItems struct {
	Name   string
	Number int
	Items  []*Item
}

// Write renders an overlay document with each item's instructions as a
// comment. With simple set, only items flagged Simple are written.
func Write(w io.Writer, rules []RuleItems, simple bool) error {
	rulesNode := &yaml.Node{Kind: yaml.MappingNode}
	commentsNode := &yaml.Node{Kind: yaml.MappingNode}

	for _, r := range rules {
		itemsNode := &yaml.Node{Kind: yaml.MappingNode}
		ruleComments := &yaml.Node{Kind: yaml.MappingNode}

		for _, it := range r.Items {
			if simple && !it.Simple() {
				continue
			}
			key := scalar(it.Key())
			key.HeadComment = commentText(it)

			val := &yaml.Node{}
			if err := val.Encode(it.Value()); err != nil {
				return errors.Wrapf(err, "encode %s", it.Key())
			}
			itemsNode.Content = append(itemsNode.Content, key, val)

			if it.Comment() != "" {
				ruleComments.Content = append(ruleComments.Content, scalar(it.Key()), scalar(it.Comment()))
			}
		}
		if len(itemsNode.Content) == 0 {
			continue
		}

		name := scalar(r.Name)
		name.HeadComment = "Rule " + strconv.Itoa(r.Number)
		rulesNode.Content = append(rulesNode.Content, name, itemsNode)
		if len(ruleComments.Content) > 0 {
			commentsNode.Content = append(commentsNode.Content, scalar(r.Name), ruleComments)
		}
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	root.Content = append(root.Content,
		scalar("version"), &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(CurrentVersion)},
		scalar("rules"), rulesNode,
	)
	if len(commentsNode.Content) > 0 {
		root.Content = append(root.Content, scalar("comments"), commentsNode)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return errors.Wrap(err, "write config")
	}
	return enc.Close()
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func commentText(it *Item) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(it.Instructions()))
	if vv := it.ValidValues(); len(vv) > 0 {
		b.WriteString("\nValid values: " + strings.Join(vv, ", "))
	}
	b.WriteString("\nType: " + it.Kind().String())
	return strings.TrimSpace(b.String())
}
